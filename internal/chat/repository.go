package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a message row does not exist.
var ErrNotFound = errors.New("message not found")

// Store is the persistence contract the access layer needs.
type Store interface {
	// ListDirected returns messages sent by senderID to receiverID, oldest first.
	ListDirected(ctx context.Context, senderID, receiverID string) ([]Message, error)
	InsertMessage(ctx context.Context, msg Message) error
	// MarkRead sets read=true. Repeating it is harmless.
	MarkRead(ctx context.Context, messageID string) error
	CountUnread(ctx context.Context, viewerID, counterpartyID string) (int, error)
	// LastMessage returns nil when the pair has no messages.
	LastMessage(ctx context.Context, viewerID, counterpartyID string) (*Message, error)
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const messageColumns = `id, sender_id, receiver_id, sender_name, receiver_name, content, created_at, read`

type scanner interface {
	Scan(dest ...any) error
}

func (r *Repository) ListDirected(ctx context.Context, senderID, receiverID string) ([]Message, error) {
	query := `SELECT ` + messageColumns + `
		FROM messages
		WHERE sender_id = $1 AND receiver_id = $2
		ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, senderID, receiverID)
	if err != nil {
		return nil, fmt.Errorf("list messages %s->%s: %w", senderID, receiverID, err)
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return messages, nil
}

func (r *Repository) InsertMessage(ctx context.Context, msg Message) error {
	query := `INSERT INTO messages (` + messageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		msg.ID,
		msg.SenderID,
		msg.ReceiverID,
		nullString(msg.SenderName),
		nullString(msg.ReceiverName),
		msg.Content,
		msg.CreatedAt,
		msg.Read,
	)
	if err != nil {
		return fmt.Errorf("insert message %q: %w", msg.ID, err)
	}
	return nil
}

func (r *Repository) MarkRead(ctx context.Context, messageID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET read = true WHERE id = $1`, messageID)
	if err != nil {
		return fmt.Errorf("mark read %q: %w", messageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for mark read %q: %w", messageID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) CountUnread(ctx context.Context, viewerID, counterpartyID string) (int, error) {
	query := `SELECT count(*) FROM messages
		WHERE receiver_id = $1 AND sender_id = $2 AND NOT read`

	var n int
	if err := r.db.QueryRowContext(ctx, query, viewerID, counterpartyID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unread from %s: %w", counterpartyID, err)
	}
	return n, nil
}

func (r *Repository) LastMessage(ctx context.Context, viewerID, counterpartyID string) (*Message, error) {
	query := `SELECT ` + messageColumns + `
		FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY created_at DESC
		LIMIT 1`

	msg, err := scanMessage(r.db.QueryRowContext(ctx, query, viewerID, counterpartyID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("last message with %s: %w", counterpartyID, err)
	}
	return msg, nil
}

func scanMessage(row scanner) (*Message, error) {
	var (
		msg          Message
		senderName   sql.NullString
		receiverName sql.NullString
	)
	if err := row.Scan(
		&msg.ID,
		&msg.SenderID,
		&msg.ReceiverID,
		&senderName,
		&receiverName,
		&msg.Content,
		&msg.CreatedAt,
		&msg.Read,
	); err != nil {
		return nil, err
	}
	if senderName.Valid {
		msg.SenderName = &senderName.String
	}
	if receiverName.Valid {
		msg.ReceiverName = &receiverName.String
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	return &msg, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
