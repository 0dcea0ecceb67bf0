// Package history keeps a git repository per room with one commit per
// canvas snapshot.
package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"collabcanvas/api/internal/room"
	"collabcanvas/api/internal/shape"
)

const (
	canvasFile = "canvas.json"
	mainBranch = "main"
)

var (
	ErrNotFound  = errors.New("snapshot not found")
	ErrNoChanges = errors.New("canvas unchanged since last snapshot")
)

// Canvas is the committed form of a room snapshot.
type Canvas struct {
	RoomID  string           `json:"roomId"`
	Version uint64           `json:"version"`
	Shapes  []shape.Metadata `json:"shapes"`
}

// FromSnapshot orders the snapshot's shapes by id so equal canvases
// serialise identically.
func FromSnapshot(roomID string, snap room.Snapshot) Canvas {
	shapes := make([]shape.Metadata, 0, len(snap.Shapes))
	for _, md := range snap.Shapes {
		shapes = append(shapes, md)
	}
	sort.Slice(shapes, func(i, j int) bool { return shapes[i].Shape.ID < shapes[j].Shape.ID })
	return Canvas{RoomID: roomID, Version: snap.Version, Shapes: shapes}
}

type Commit struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	now     func() time.Time
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Commit records the canvas as the new head of the room's history. It
// returns ErrNoChanges when the shapes match the current head.
func (s *Service) Commit(c Canvas, author, message string) (Commit, error) {
	lock := s.roomLock(c.RoomID)
	lock.Lock()
	defer lock.Unlock()

	repo, fresh, err := s.openOrInit(c.RoomID)
	if err != nil {
		return Commit{}, err
	}
	if !fresh {
		if head, err := headCanvas(repo); err == nil && !HasChanges(head, c) {
			return Commit{}, ErrNoChanges
		}
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return Commit{}, fmt.Errorf("open worktree: %w", err)
	}
	payload, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return Commit{}, fmt.Errorf("marshal canvas: %w", err)
	}
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), canvasFile), append(payload, '\n'), 0o644); err != nil {
		return Commit{}, fmt.Errorf("write %s: %w", canvasFile, err)
	}
	if _, err := worktree.Add(canvasFile); err != nil {
		return Commit{}, fmt.Errorf("git add canvas: %w", err)
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.collabcanvas.dev", sanitizeEmail(author)),
			When:  s.now(),
		},
	})
	if err != nil {
		return Commit{}, fmt.Errorf("commit canvas: %w", err)
	}
	if fresh {
		if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName(mainBranch), hash)); err != nil {
			return Commit{}, fmt.Errorf("set main branch ref: %w", err)
		}
		if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
			return Commit{}, fmt.Errorf("set HEAD to main: %w", err)
		}
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Commit{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommit(commitObj), nil
}

// List returns the newest commits first. A room without history has an
// empty list.
func (s *Service) List(roomID string, limit int) ([]Commit, error) {
	lock := s.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(roomID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Commit{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}
	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Commit, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommit(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// At reads the canvas committed at hash, which may be abbreviated.
func (s *Service) At(roomID, hash string) (Canvas, Commit, error) {
	lock := s.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(roomID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return Canvas{}, Commit{}, ErrNotFound
	}
	if err != nil {
		return Canvas{}, Commit{}, fmt.Errorf("open repo: %w", err)
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return Canvas{}, Commit{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return Canvas{}, Commit{}, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	c, err := readCanvas(commitObj)
	if err != nil {
		return Canvas{}, Commit{}, err
	}
	return c, toCommit(commitObj), nil
}

func (s *Service) openOrInit(roomID string) (*git.Repository, bool, error) {
	path := s.repoPath(roomID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, false, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, false, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, false, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, false, fmt.Errorf("init repo: %w", err)
	}
	return repo, true, nil
}

func (s *Service) repoPath(roomID string) string {
	return filepath.Join(s.baseDir, repoName(roomID))
}

func (s *Service) roomLock(roomID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[roomID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[roomID] = lock
	}
	return lock
}

func headCanvas(repo *git.Repository) (Canvas, error) {
	ref, err := repo.Head()
	if err != nil {
		return Canvas{}, fmt.Errorf("read HEAD: %w", err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return Canvas{}, fmt.Errorf("read head commit: %w", err)
	}
	return readCanvas(commitObj)
}

func readCanvas(commitObj *object.Commit) (Canvas, error) {
	file, err := commitObj.File(canvasFile)
	if err != nil {
		return Canvas{}, fmt.Errorf("load %s from commit: %w", canvasFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Canvas{}, fmt.Errorf("open canvas reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Canvas{}, fmt.Errorf("read canvas bytes: %w", err)
	}
	var c Canvas
	if err := json.Unmarshal(raw, &c); err != nil {
		return Canvas{}, fmt.Errorf("decode canvas: %w", err)
	}
	return c, nil
}

// HasChanges compares shape content only; the room version is ignored.
func HasChanges(from, to Canvas) bool {
	a, errA := json.Marshal(from.Shapes)
	b, errB := json.Marshal(to.Shapes)
	if errA != nil || errB != nil {
		return true
	}
	return !bytes.Equal(a, b)
}

func toCommit(commitObj *object.Commit) Commit {
	return Commit{
		Hash:      commitObj.Hash.String()[:7],
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

// repoName maps a room id such as "rooms/default" to a directory name.
func repoName(roomID string) string {
	var b strings.Builder
	for _, r := range roomID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "room"
	}
	return b.String()
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	return *resolved, nil
}
