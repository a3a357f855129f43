// Package store persists rooms and messages in PostgreSQL, with an optional
// Redis read cache for room history.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quickna/socket/src/types"
	"github.com/rs/zerolog"
)

// DefaultHistoryLimit caps history fetches when no limit is configured.
const DefaultHistoryLimit = 50

// ErrRoomNotFound is returned when a room lookup misses.
var ErrRoomNotFound = errors.New("room not found")

// ErrInvalidRoomID is returned for ids that are not 5-character codes.
var ErrInvalidRoomID = errors.New("room id must be exactly 5 characters")

// createRoomAttempts bounds code-collision retries on room creation.
const createRoomAttempts = 5

// Postgres stores rooms and messages in a relational schema (db/schema.sql).
type Postgres struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgres creates a store backed by the given connection pool.
func NewPostgres(pool *pgxpool.Pool, logger zerolog.Logger) *Postgres {
	return &Postgres{
		pool:   pool,
		logger: logger.With().Str("component", "store").Logger(),
	}
}

// RecentMessages returns up to limit messages for a room in ascending
// chronological order, ties broken by insertion order.
func (p *Postgres) RecentMessages(ctx context.Context, roomID string, limit int) ([]types.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, room_id, content, author, created_at
		FROM messages
		WHERE room_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []types.Message
	for rows.Next() {
		var m types.Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.Content, &m.Author, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}

	// The query returns newest-first for the LIMIT; reverse to ascending.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// SaveMessage persists a message and returns it with the server-assigned ID
// and timestamp.
func (p *Postgres) SaveMessage(ctx context.Context, roomID, content string, author *string) (types.Message, error) {
	var m types.Message
	err := p.pool.QueryRow(ctx, `
		INSERT INTO messages (room_id, content, author)
		VALUES ($1, $2, $3)
		RETURNING id, room_id, content, author, created_at`,
		roomID, content, author,
	).Scan(&m.ID, &m.RoomID, &m.Content, &m.Author, &m.CreatedAt)
	if err != nil {
		return types.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

// CreateRoom inserts a room under a freshly generated short code, retrying
// on the unlikely code collision.
func (p *Postgres) CreateRoom(ctx context.Context, name string) (types.Room, error) {
	for i := 0; i < createRoomAttempts; i++ {
		id := NewRoomCode()

		var room types.Room
		err := p.pool.QueryRow(ctx, `
			INSERT INTO rooms (id, name)
			VALUES ($1, $2)
			RETURNING id, name, created_at`,
			id, name,
		).Scan(&room.ID, &room.Name, &room.CreatedAt)
		if err == nil {
			return room, nil
		}
		if isDuplicateKey(err) {
			p.logger.Warn().Str("room_id", id).Msg("room code collision, retrying")
			continue
		}
		return types.Room{}, fmt.Errorf("insert room: %w", err)
	}
	return types.Room{}, errors.New("exhausted room code attempts")
}

// RoomByID looks up a room by its short code.
func (p *Postgres) RoomByID(ctx context.Context, id string) (types.Room, error) {
	if len(id) != RoomCodeLength {
		return types.Room{}, ErrInvalidRoomID
	}

	var room types.Room
	err := p.pool.QueryRow(ctx, `
		SELECT id, name, created_at FROM rooms WHERE id = $1`, id,
	).Scan(&room.ID, &room.Name, &room.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Room{}, ErrRoomNotFound
		}
		return types.Room{}, fmt.Errorf("query room: %w", err)
	}
	return room, nil
}

// Ping checks database connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// isDuplicateKey reports whether err is a PostgreSQL unique violation.
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
