package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/natefinch/atomic"

	"github.com/spec-kit/verification-desk/internal/domain"
)

// ErrNoSnapshot is returned by a backend that has never been written.
var ErrNoSnapshot = errors.New("no persisted ticket snapshot")

// TicketBackend persists the full active ticket map. Save always rewrites everything.
type TicketBackend interface {
	Load(ctx context.Context) (map[string]domain.TicketRecord, error)
	Save(ctx context.Context, tickets map[string]domain.TicketRecord) error
}

type ticketSnapshot struct {
	ActiveTickets map[string]domain.TicketRecord `json:"active_tickets"`
}

// FileBackend keeps the snapshot in a JSON file replaced atomically on each save.
type FileBackend struct {
	path string
}

// NewFileBackend returns a backend writing to path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Path is the snapshot location.
func (b *FileBackend) Path() string {
	return b.path
}

func (b *FileBackend) Load(_ context.Context) (map[string]domain.TicketRecord, error) {
	content, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoSnapshot
		}
		return nil, err
	}
	var snap ticketSnapshot
	if err := json.Unmarshal(content, &snap); err != nil {
		return nil, fmt.Errorf("decode %s: %w", b.path, err)
	}
	if snap.ActiveTickets == nil {
		snap.ActiveTickets = map[string]domain.TicketRecord{}
	}
	for userID, record := range snap.ActiveTickets {
		if record.UserID != userID || record.ChannelID == "" {
			return nil, fmt.Errorf("decode %s: inconsistent record for user %q", b.path, userID)
		}
	}
	return snap.ActiveTickets, nil
}

func (b *FileBackend) Save(_ context.Context, tickets map[string]domain.TicketRecord) error {
	content, err := json.MarshalIndent(ticketSnapshot{ActiveTickets: tickets}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o750); err != nil {
		return err
	}
	return atomic.WriteFile(b.path, bytes.NewReader(content))
}

// PostgresBackend keeps the snapshot in the active_tickets table, replaced in one transaction.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend instantiates the backend.
func NewPostgresBackend(pool *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool}
}

func (b *PostgresBackend) Load(ctx context.Context) (map[string]domain.TicketRecord, error) {
	const query = `
        SELECT user_id, ticket_id, username, channel_id, created_at, reason, declared_age,
               status, welcome_message_id, rejections
        FROM active_tickets`
	rows, err := b.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := map[string]domain.TicketRecord{}
	for rows.Next() {
		var record domain.TicketRecord
		if err := rows.Scan(
			&record.UserID,
			&record.TicketID,
			&record.Username,
			&record.ChannelID,
			&record.CreatedAt,
			&record.Reason,
			&record.DeclaredAge,
			&record.Status,
			&record.WelcomeMessageID,
			&record.Rejections,
		); err != nil {
			return nil, err
		}
		result[record.UserID] = record
	}
	return result, rows.Err()
}

func (b *PostgresBackend) Save(ctx context.Context, tickets map[string]domain.TicketRecord) error {
	const insert = `
        INSERT INTO active_tickets (user_id, ticket_id, username, channel_id, created_at, reason,
            declared_age, status, welcome_message_id, rejections)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM active_tickets`); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, record := range tickets {
		batch.Queue(insert,
			record.UserID,
			record.TicketID,
			record.Username,
			record.ChannelID,
			record.CreatedAt,
			record.Reason,
			record.DeclaredAge,
			record.Status,
			record.WelcomeMessageID,
			record.Rejections,
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
