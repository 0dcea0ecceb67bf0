package store

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"collabcanvas/api/internal/logging"
	"collabcanvas/api/internal/room"
	"collabcanvas/api/internal/shape"
)

// PostgresStore persists room state in canvas_shapes. It implements
// room.Persister.
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ room.Persister = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logging.OrNop(logger).Named("store")}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) LoadShapes(ctx context.Context, roomID string) (map[string]shape.Metadata, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id, shape_id, shape, updated_at, updated_by, stored_at
		FROM canvas_shapes
		WHERE room_id = $1
		ORDER BY shape_id
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query shapes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]shape.Metadata)
	for rows.Next() {
		var row ShapeRow
		if err := rows.Scan(&row.RoomID, &row.ShapeID, &row.Shape, &row.UpdatedAt, &row.UpdatedBy, &row.StoredAt); err != nil {
			return nil, fmt.Errorf("scan shape: %w", err)
		}
		md, err := row.Metadata()
		if err != nil {
			s.logger.Warn("skipping undecodable shape row", zap.String("room_id", roomID), zap.String("shape_id", row.ShapeID), zap.Error(err))
			continue
		}
		out[row.ShapeID] = md
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shapes: %w", err)
	}
	return out, nil
}

// SaveShapes upserts shapes in one transaction. A stored row is only
// replaced by a write that is at least as new.
func (s *PostgresStore) SaveShapes(ctx context.Context, roomID string, shapes []shape.Metadata) error {
	if len(shapes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO canvas_shapes (room_id, shape_id, shape, updated_at, updated_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (room_id, shape_id) DO UPDATE
		SET shape = EXCLUDED.shape,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by,
			stored_at = NOW()
		WHERE canvas_shapes.updated_at <= EXCLUDED.updated_at
	`)
	if err != nil {
		return fmt.Errorf("prepare save: %w", err)
	}
	defer stmt.Close()

	for _, md := range shapes {
		row, err := rowFromMetadata(roomID, md)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, row.RoomID, row.ShapeID, []byte(row.Shape), row.UpdatedAt, row.UpdatedBy); err != nil {
			return fmt.Errorf("save shape %s: %w", row.ShapeID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteShapes(ctx context.Context, roomID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM canvas_shapes WHERE room_id = $1 AND shape_id = $2`, roomID, id); err != nil {
			return fmt.Errorf("delete shape %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context, roomID string) (RoomStats, error) {
	stats := RoomStats{RoomID: roomID}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(MAX(updated_at), 0)
		FROM canvas_shapes
		WHERE room_id = $1
	`, roomID).Scan(&stats.Shapes, &stats.LastWrite)
	if err != nil {
		return RoomStats{}, fmt.Errorf("room stats: %w", err)
	}
	return stats, nil
}
