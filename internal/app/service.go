package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"collabcanvas/api/internal/agent"
	"collabcanvas/api/internal/auth"
	"collabcanvas/api/internal/config"
	"collabcanvas/api/internal/export"
	"collabcanvas/api/internal/history"
	"collabcanvas/api/internal/logging"
	"collabcanvas/api/internal/mutation"
	"collabcanvas/api/internal/rbac"
	"collabcanvas/api/internal/room"
	"collabcanvas/api/internal/search"
	"collabcanvas/api/internal/shape"
	"collabcanvas/api/internal/transport"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	Role      string
	JTI       string
	ExpiresAt time.Time
}

// Pinger is a backing service that can report its health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the service. Room, Mutations and Hub are
// required; the rest are optional and switch their routes off when nil.
type Deps struct {
	Room        *room.Room
	Mutations   *mutation.Service
	Hub         *transport.Hub
	Runner      *agent.Runner
	Search      *search.Service
	Export      *export.Service
	History     *history.Service
	Snapshotter *history.Snapshotter
	Database    Pinger
	Leases      Pinger
	Storage     Pinger
	Logger      *zap.Logger
}

type Service struct {
	cfg         config.Config
	issuer      *auth.Issuer
	room        *room.Room
	mutations   *mutation.Service
	toolbox     *agent.Toolbox
	runner      *agent.Runner
	hub         *transport.Hub
	search      *search.Service
	export      *export.Service
	history     *history.Service
	snapshotter *history.Snapshotter
	checks      map[string]Pinger
	logger      *zap.Logger
}

func New(cfg config.Config, deps Deps) *Service {
	logger := logging.OrNop(deps.Logger)
	toolbox := agent.NewToolbox(deps.Mutations)
	runner := deps.Runner
	if runner == nil {
		runner = agent.NewRunner(nil, toolbox, logger)
	}
	hub := deps.Hub
	if hub == nil {
		hub = transport.NewHub(deps.Room, nil, cfg.CORSOrigin, logger)
	}
	checks := map[string]Pinger{}
	if deps.Database != nil {
		checks["database"] = deps.Database
	}
	if deps.Leases != nil {
		checks["redis"] = deps.Leases
	}
	if deps.Storage != nil {
		checks["storage"] = deps.Storage
	}
	return &Service{
		cfg:         cfg,
		issuer:      auth.NewIssuer([]byte(cfg.TokenSecret), tokenTTL(cfg.TokenTTL)),
		room:        deps.Room,
		mutations:   deps.Mutations,
		toolbox:     toolbox,
		runner:      runner,
		hub:         hub,
		search:      deps.Search,
		export:      deps.Export,
		history:     deps.History,
		snapshotter: deps.Snapshotter,
		checks:      checks,
		logger:      logger.Named("app"),
	}
}

func tokenTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return time.Hour
	}
	return ttl
}

// Login issues a token for name. Users are not stored: the id is derived
// from the name so a returning user keeps the same presence colour.
func (s *Service) Login(_ context.Context, name, role string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		userName = "User"
	}
	resolved := rbac.RoleEditor
	if strings.TrimSpace(role) != "" {
		resolved = rbac.Normalize(strings.ToLower(strings.TrimSpace(role)))
	}
	userID := userIDFor(userName)

	token, exp, err := s.issuer.Issue(userID, userName, string(resolved))
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	claims, err := s.issuer.Parse(token)
	if err != nil {
		return Session{}, err
	}
	s.logger.Info("session issued", zap.String("user_id", userID), zap.String("role", string(resolved)))
	return Session{
		Token:     token,
		UserID:    userID,
		UserName:  userName,
		Role:      string(resolved),
		JTI:       claims.JTI,
		ExpiresAt: exp,
	}, nil
}

func userIDFor(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		slug = "user"
	}
	return "user:" + slug
}

func (s *Service) SessionFromToken(_ context.Context, token string) (Session, error) {
	claims, err := s.issuer.Parse(token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Role:      string(rbac.Normalize(claims.Role)),
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// Ready pings every configured backing service and returns the failures
// by name.
func (s *Service) Ready(ctx context.Context) map[string]error {
	results := make(map[string]error, len(s.checks)+1)
	for name, p := range s.checks {
		results[name] = p.Ping(ctx)
	}
	if s.search != nil {
		var err error
		if !s.search.Healthy() {
			err = errors.New("meilisearch unreachable, serving from snapshot scan")
		}
		results["search"] = err
	}
	return results
}

func (s *Service) RoomID() string {
	return s.room.ID()
}

// ListShapes returns the live shapes in paint order.
func (s *Service) ListShapes(context.Context) (uint64, []shape.Metadata) {
	snap := s.room.Snapshot()
	shapes := make([]shape.Metadata, 0, len(snap.Shapes))
	for _, md := range snap.Shapes {
		shapes = append(shapes, md)
	}
	sort.Slice(shapes, func(i, j int) bool {
		if shapes[i].Shape.Index != shapes[j].Shape.Index {
			return shapes[i].Shape.Index < shapes[j].Shape.Index
		}
		return shapes[i].Shape.ID < shapes[j].Shape.ID
	})
	return snap.Version, shapes
}

func (s *Service) GetShape(ctx context.Context, id string) (shape.Metadata, error) {
	md, ok := s.room.Get(ctx, id)
	if !ok {
		return shape.Metadata{}, fmt.Errorf("%w: %s", mutation.ErrNotFound, id)
	}
	return md, nil
}

// PutShape stores rec as a human edit by userID, stamped so it wins over
// whatever the room holds.
func (s *Service) PutShape(ctx context.Context, userID string, rec shape.Record) (shape.Metadata, error) {
	if rec.TypeName == "" {
		rec.TypeName = shape.TypeName
	}
	if rec.ParentID == "" {
		rec.ParentID = shape.DefaultParentID
	}
	if rec.Index == "" {
		rec.Index = shape.DefaultIndex
	}
	if err := rec.Validate(); err != nil {
		return shape.Metadata{}, err
	}

	var stored shape.Metadata
	outcomes, err := s.room.Mutate(ctx, func(tx *room.Tx) error {
		at := tx.FreshTimestamp(rec.ID)
		rec.Meta.Source = shape.SourceHuman
		rec.Meta.CommandID = ""
		rec.Meta.UpdatedBy = userID
		rec.Meta.UpdatedAt = at
		stored = shape.Metadata{Shape: rec, UpdatedAt: at, UpdatedBy: userID}
		tx.Put(stored)
		return nil
	})
	if err != nil {
		return shape.Metadata{}, s.storeError(err)
	}
	if len(outcomes) == 1 && !outcomes[0].Applied {
		return shape.Metadata{}, domainError(http.StatusConflict, "WRITE_REJECTED", "Shape write rejected: "+outcomes[0].Reason, map[string]any{"shapeId": rec.ID})
	}
	return stored, nil
}

func (s *Service) DeleteShape(ctx context.Context, id string) error {
	_, err := s.room.Mutate(ctx, func(tx *room.Tx) error {
		if _, ok := tx.Get(id); !ok {
			return fmt.Errorf("%w: %s", mutation.ErrNotFound, id)
		}
		tx.Delete(id)
		return nil
	})
	if err != nil {
		return s.storeError(err)
	}
	return nil
}

// ApplyDeltas writes a client batch under last-writer-wins, attributing
// every delta to userID.
func (s *Service) ApplyDeltas(ctx context.Context, userID string, deltas []room.Delta) ([]room.Outcome, error) {
	for i := range deltas {
		deltas[i].UpdatedBy = userID
	}
	outcomes, err := s.room.Apply(ctx, deltas)
	if err != nil {
		return nil, s.storeError(err)
	}
	return outcomes, nil
}

func (s *Service) storeError(err error) error {
	if room.IsUnavailable(err) {
		s.logger.Warn("room write failed", zap.Error(err))
		return fmt.Errorf("%w: %v", mutation.ErrUnavailable, err)
	}
	return err
}

func (s *Service) CallTool(ctx context.Context, userID string, call agent.ToolCall) (any, error) {
	return s.toolbox.Call(ctx, userID, call)
}

func (s *Service) RunCommand(ctx context.Context, userID string, req agent.Request, emit agent.Emitter) error {
	return s.runner.Run(ctx, userID, req, emit)
}

func (s *Service) Search(ctx context.Context, q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "UNAVAILABLE", "Search is not configured", nil)
	}
	return s.search.Search(ctx, q), nil
}

func (s *Service) Export(ctx context.Context, req export.Request) (*export.Result, error) {
	if s.export == nil {
		return nil, domainError(http.StatusServiceUnavailable, "UNAVAILABLE", "Export is not configured", nil)
	}
	return s.export.Export(ctx, req)
}

func (s *Service) ListHistory(_ context.Context, limit int) ([]history.Commit, error) {
	if s.history == nil {
		return nil, export.ErrHistoryUnavailable
	}
	return s.history.List(s.room.ID(), limit)
}

func (s *Service) HistoryAt(_ context.Context, hash string) (history.Canvas, history.Commit, error) {
	if s.history == nil {
		return history.Canvas{}, history.Commit{}, export.ErrHistoryUnavailable
	}
	return s.history.At(s.room.ID(), hash)
}

// SnapshotNow commits pending room changes without waiting for the idle
// timer. It reports whether a commit was made.
func (s *Service) SnapshotNow(context.Context) (bool, error) {
	if s.snapshotter == nil {
		return false, export.ErrHistoryUnavailable
	}
	return s.snapshotter.Flush()
}

func (s *Service) Hub() *transport.Hub {
	return s.hub
}
