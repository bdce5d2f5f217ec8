package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Frame directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Frame is one journaled envelope.
type Frame struct {
	ID        string
	ConnID    string
	Direction string
	PacketID  string
	RequestID *int64
	Payload   string
	CreatedAt int64 // unix micro
}

// NewULID generates a new ULID.
func NewULID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// RecordFrame appends f to the journal. ID and CreatedAt are filled in when
// unset. The connection must already exist.
func (s *Store) RecordFrame(ctx context.Context, f *Frame) error {
	if f.ID == "" {
		f.ID = NewULID()
	}
	if f.CreatedAt == 0 {
		f.CreatedAt = time.Now().UnixMicro()
	}

	var requestID sql.NullInt64
	if f.RequestID != nil {
		requestID = sql.NullInt64{Int64: *f.RequestID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO frame (id, conn_id, direction, packet_id, request_id, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.ConnID, f.Direction, f.PacketID, requestID, f.Payload, f.CreatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("frame %q: %w", f.ID, ErrConflict)
		}
		return fmt.Errorf("insert frame: %w", err)
	}
	return nil
}

// ListFrames returns up to limit frames of a connection, oldest first.
// A non-positive limit returns every frame.
func (s *Store) ListFrames(ctx context.Context, connID string, limit int) ([]*Frame, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conn_id, direction, packet_id, request_id, payload, created_at
		 FROM frame WHERE conn_id = ?
		 ORDER BY created_at, id
		 LIMIT ?`, connID, limit)
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	defer rows.Close()

	var frames []*Frame
	for rows.Next() {
		f := &Frame{}
		var requestID sql.NullInt64
		if err := rows.Scan(&f.ID, &f.ConnID, &f.Direction, &f.PacketID, &requestID, &f.Payload, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		if requestID.Valid {
			f.RequestID = &requestID.Int64
		}
		frames = append(frames, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate frames: %w", err)
	}
	return frames, nil
}

// CountFrames returns the number of journaled frames.
func (s *Store) CountFrames(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM frame`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count frames: %w", err)
	}
	return n, nil
}

// PruneFrames deletes frames created before the cutoff, along with closed
// connections left without frames. It returns the number of frames deleted.
func (s *Store) PruneFrames(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	err := s.InTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`DELETE FROM frame WHERE created_at < ?`, before.UnixMicro())
		if err != nil {
			return fmt.Errorf("delete frames: %w", err)
		}
		deleted, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`DELETE FROM connection
			 WHERE closed_at IS NOT NULL AND closed_at < ?
			   AND NOT EXISTS (SELECT 1 FROM frame WHERE frame.conn_id = connection.id)`,
			before.Unix())
		if err != nil {
			return fmt.Errorf("delete connections: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
