package messages

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/dmitrijs2005/chatrelay/internal/dbx"
	"github.com/dmitrijs2005/chatrelay/internal/server/models"
)

const messageColumns = `id, sender_id, recipient_id, sender_local_message_id, message, sender_timestamp, type,
	parent_message_id, primary_sender_id, primary_sender_local_message_id, primary_recipient_id,
	group_info, file_info, is_group_message, is_delivered, delivery_timestamp, is_read, read_timestamp, created_at`

// PostgresRepository implements the Message Store over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert appends one row and returns it with the store-assigned id.
// Delivery and read flags start NULL.
func (r *PostgresRepository) Insert(ctx context.Context, m *models.NewMessage) (*models.Message, error) {
	query := `INSERT INTO messages (sender_id, recipient_id, sender_local_message_id, message, sender_timestamp, type,
		parent_message_id, primary_sender_id, primary_sender_local_message_id, primary_recipient_id,
		group_info, file_info, is_group_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at`

	row := &models.Message{
		SenderID:             m.SenderID,
		RecipientID:          m.RecipientID,
		SenderLocalID:        m.SenderLocalID,
		Body:                 m.Body,
		SenderTimestamp:      m.SenderTimestamp,
		Type:                 m.Type,
		ParentMessageID:      m.ParentMessageID,
		PrimarySenderID:      m.PrimarySenderID,
		PrimarySenderLocalID: m.PrimarySenderLocalID,
		PrimaryRecipientID:   m.PrimaryRecipientID,
		GroupInfo:            m.GroupInfo,
		FileInfo:             m.FileInfo,
		IsGroupMessage:       m.IsGroupMessage,
	}

	err := r.db.QueryRowContext(ctx, query,
		m.SenderID, m.RecipientID, m.SenderLocalID, m.Body, m.SenderTimestamp, m.Type,
		nullInt64(m.ParentMessageID), nullString(m.PrimarySenderID), nullString(m.PrimarySenderLocalID),
		nullString(m.PrimaryRecipientID), nullJSON(m.GroupInfo), nullJSON(m.FileInfo), m.IsGroupMessage,
	).Scan(&row.GlobalID, &row.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return row, nil
}

// FindUndelivered returns rows addressed to recipientID whose is_delivered is
// false or NULL, oldest sender timestamp first.
func (r *PostgresRepository) FindUndelivered(ctx context.Context, recipientID string) ([]*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE recipient_id = $1 AND is_delivered IS NOT TRUE
		ORDER BY sender_timestamp ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, recipientID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

// SetDelivered marks the message delivered. Only the recipient may do so; any
// other caller sees common.ErrorNotFound. The first timestamp wins.
func (r *PostgresRepository) SetDelivered(ctx context.Context, globalID int64, recipientID string, at time.Time) (*models.StatusChange, error) {
	query := `UPDATE messages SET is_delivered = TRUE, delivery_timestamp = COALESCE(delivery_timestamp, $3)
		WHERE id = $1 AND recipient_id = $2
		RETURNING id, sender_id, is_delivered, delivery_timestamp`
	return r.setFlag(ctx, query, globalID, recipientID, at)
}

// SetRead marks the message read, with the same rules as SetDelivered.
func (r *PostgresRepository) SetRead(ctx context.Context, globalID int64, recipientID string, at time.Time) (*models.StatusChange, error) {
	query := `UPDATE messages SET is_read = TRUE, read_timestamp = COALESCE(read_timestamp, $3)
		WHERE id = $1 AND recipient_id = $2
		RETURNING id, sender_id, is_read, read_timestamp`
	return r.setFlag(ctx, query, globalID, recipientID, at)
}

func (r *PostgresRepository) setFlag(ctx context.Context, query string, globalID int64, recipientID string, at time.Time) (*models.StatusChange, error) {
	var (
		c  models.StatusChange
		ts sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, globalID, recipientID, at).Scan(&c.GlobalID, &c.SenderID, &c.Flag, &ts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	c.Timestamp = timePtr(ts)
	return &c, nil
}

// GetDeliveryStatuses reads delivery flags for the ids userID sent or received.
// Unknown or foreign ids are absent from the result.
func (r *PostgresRepository) GetDeliveryStatuses(ctx context.Context, userID string, globalIDs []int64) ([]*models.DeliveryStatus, error) {
	query := `SELECT id, COALESCE(is_delivered, FALSE), delivery_timestamp FROM messages
		WHERE id = ANY($1) AND (sender_id = $2 OR recipient_id = $2)
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, globalIDs, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.DeliveryStatus
	for rows.Next() {
		var (
			s  models.DeliveryStatus
			ts sql.NullTime
		)
		if err := rows.Scan(&s.GlobalID, &s.IsDelivered, &ts); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		s.DeliveryTimestamp = timePtr(ts)
		result = append(result, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

// GetReadStatuses reads read flags for the ids userID sent or received.
func (r *PostgresRepository) GetReadStatuses(ctx context.Context, userID string, globalIDs []int64) ([]*models.ReadStatus, error) {
	query := `SELECT id, COALESCE(is_read, FALSE), read_timestamp FROM messages
		WHERE id = ANY($1) AND (sender_id = $2 OR recipient_id = $2)
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, globalIDs, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.ReadStatus
	for rows.Next() {
		var (
			s  models.ReadStatus
			ts sql.NullTime
		)
		if err := rows.Scan(&s.GlobalID, &s.IsRead, &ts); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		s.ReadTimestamp = timePtr(ts)
		result = append(result, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

// HasAttachment reports whether a message userID sent or received references
// storageKey in its file_info.
func (r *PostgresRepository) HasAttachment(ctx context.Context, userID, storageKey string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM messages
		WHERE file_info->>'storage_key' = $1 AND (sender_id = $2 OR recipient_id = $2))`

	var ok bool
	if err := r.db.QueryRowContext(ctx, query, storageKey, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return ok, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (*models.Message, error) {
	var (
		m                                       models.Message
		parent                                  sql.NullInt64
		primarySender, primaryLocal, primaryRcp sql.NullString
		groupInfo, fileInfo                     []byte
		delivered, read                         sql.NullBool
		deliveredAt, readAt                     sql.NullTime
	)
	err := s.Scan(&m.GlobalID, &m.SenderID, &m.RecipientID, &m.SenderLocalID, &m.Body, &m.SenderTimestamp, &m.Type,
		&parent, &primarySender, &primaryLocal, &primaryRcp,
		&groupInfo, &fileInfo, &m.IsGroupMessage, &delivered, &deliveredAt, &read, &readAt, &m.CreatedAt)
	if err != nil {
		return nil, err
	}

	if parent.Valid {
		v := parent.Int64
		m.ParentMessageID = &v
	}
	m.PrimarySenderID = stringPtr(primarySender)
	m.PrimarySenderLocalID = stringPtr(primaryLocal)
	m.PrimaryRecipientID = stringPtr(primaryRcp)
	if len(groupInfo) > 0 {
		m.GroupInfo = groupInfo
	}
	if len(fileInfo) > 0 {
		m.FileInfo = fileInfo
	}
	if delivered.Valid {
		v := delivered.Bool
		m.IsDelivered = &v
	}
	if read.Valid {
		v := read.Bool
		m.IsRead = &v
	}
	m.DeliveryTimestamp = timePtr(deliveredAt)
	m.ReadTimestamp = timePtr(readAt)
	return &m, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// nullJSON keeps absent JSON as SQL NULL rather than an empty jsonb value.
func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
