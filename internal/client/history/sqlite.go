package history

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/dbx"
)

type Entry struct {
	GlobalID        int64
	SenderID        string
	RecipientID     string
	SenderLocalID   string
	Body            string
	SenderTimestamp time.Time
	IsDelivered     bool
	IsRead          bool
}

type Repository interface {
	Save(ctx context.Context, e *Entry) error
	MarkDelivered(ctx context.Context, globalID int64) error
	MarkRead(ctx context.Context, globalID int64) error
	List(ctx context.Context, peer string, limit int) ([]*Entry, error)
}

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Save inserts e. Saving a known message keeps flags already set.
func (r *SQLiteRepository) Save(ctx context.Context, e *Entry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (global_message_id, sender_id, recipient_id, sender_local_message_id,
			message, sender_timestamp, is_delivered, is_read)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(global_message_id) DO UPDATE SET
			is_delivered = max(messages.is_delivered, excluded.is_delivered),
			is_read = max(messages.is_read, excluded.is_read)
	`, e.GlobalID, e.SenderID, e.RecipientID, e.SenderLocalID, e.Body,
		e.SenderTimestamp.UTC().Format(time.RFC3339Nano), e.IsDelivered, e.IsRead)
	if err != nil {
		return fmt.Errorf("failed to save message %d: %w", e.GlobalID, err)
	}
	return nil
}

func (r *SQLiteRepository) MarkDelivered(ctx context.Context, globalID int64) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE messages SET is_delivered = 1 WHERE global_message_id = ?`, globalID); err != nil {
		return fmt.Errorf("failed to mark message %d delivered: %w", globalID, err)
	}
	return nil
}

// MarkRead also sets the delivered flag; a read message was delivered.
func (r *SQLiteRepository) MarkRead(ctx context.Context, globalID int64) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE messages SET is_read = 1, is_delivered = 1 WHERE global_message_id = ?`, globalID); err != nil {
		return fmt.Errorf("failed to mark message %d read: %w", globalID, err)
	}
	return nil
}

// List returns the newest limit messages exchanged with peer (all peers when
// empty), oldest first.
func (r *SQLiteRepository) List(ctx context.Context, peer string, limit int) ([]*Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT global_message_id, sender_id, recipient_id, sender_local_message_id, message,
			sender_timestamp, is_delivered, is_read
		FROM messages
		WHERE ? = '' OR sender_id = ? OR recipient_id = ?
		ORDER BY global_message_id DESC
		LIMIT ?
	`, peer, peer, peer, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var result []*Entry
	for rows.Next() {
		var (
			e  Entry
			ts string
		)
		if err := rows.Scan(&e.GlobalID, &e.SenderID, &e.RecipientID, &e.SenderLocalID, &e.Body,
			&ts, &e.IsDelivered, &e.IsRead); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		if e.SenderTimestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("bad timestamp on message %d: %w", e.GlobalID, err)
		}
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}

	slices.Reverse(result)
	return result, nil
}
