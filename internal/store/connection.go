package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Connection records one client session on the ModAPI endpoint.
type Connection struct {
	ID         string
	RemoteAddr string
	Protocol   string
	OpenedAt   int64 // unix seconds
	ClosedAt   *int64
}

// OpenConnection inserts a connection record. Returns ErrConflict if the id is taken.
func (s *Store) OpenConnection(ctx context.Context, c *Connection) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO connection (id, remote_addr, protocol, opened_at)
		 VALUES (?, ?, ?, ?)`,
		c.ID, c.RemoteAddr, c.Protocol, c.OpenedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("connection %q: %w", c.ID, ErrConflict)
		}
		return fmt.Errorf("insert connection: %w", err)
	}
	return nil
}

// CloseConnection stamps closed_at on an open connection. Returns ErrNotFound
// if no open connection has the id.
func (s *Store) CloseConnection(ctx context.Context, id string, closedAt int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE connection SET closed_at = ? WHERE id = ? AND closed_at IS NULL`,
		closedAt, id,
	)
	if err != nil {
		return fmt.Errorf("close connection: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetConnection returns a connection by ID. Returns ErrNotFound if not found.
func (s *Store) GetConnection(ctx context.Context, id string) (*Connection, error) {
	c := &Connection{}
	var closedAt sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, remote_addr, protocol, opened_at, closed_at
		 FROM connection WHERE id = ?`, id,
	).Scan(&c.ID, &c.RemoteAddr, &c.Protocol, &c.OpenedAt, &closedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get connection: %w", err)
	}
	if closedAt.Valid {
		c.ClosedAt = &closedAt.Int64
	}
	return c, nil
}
