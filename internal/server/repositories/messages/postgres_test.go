package messages

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/dmitrijs2005/chatrelay/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// arrayConverter lets []int64 through to the mock the way pgx's stdlib driver
// accepts it for ANY($1).
type arrayConverter struct{}

func (arrayConverter) ConvertValue(v any) (driver.Value, error) {
	if ids, ok := v.([]int64); ok {
		return ids, nil
	}
	return driver.DefaultParameterConverter.ConvertValue(v)
}

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(
		sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp),
		sqlmock.ValueConverterOption(arrayConverter{}),
	)
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

var columns = []string{"id", "sender_id", "recipient_id", "sender_local_message_id", "message", "sender_timestamp", "type",
	"parent_message_id", "primary_sender_id", "primary_sender_local_message_id", "primary_recipient_id",
	"group_info", "file_info", "is_group_message", "is_delivered", "delivery_timestamp", "is_read", "read_timestamp", "created_at"}

func TestInsert_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	sent := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	created := sent.Add(time.Second)
	parent := int64(7)
	fwd := "u-9"

	q := `(?s)^INSERT\s+INTO\s+messages\s*\(sender_id,.*is_group_message\)\s*VALUES\s*\(\$1,.*\$13\)\s*RETURNING\s+id,\s*created_at$`
	mock.ExpectQuery(q).
		WithArgs("u-2", "u-1", "L1", "hi", sent, "text", int64(7), "u-9", nil, nil, nil, `{"storage_key":"k"}`, false).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(101), created))

	got, err := repo.Insert(context.Background(), &models.NewMessage{
		SenderID:        "u-2",
		RecipientID:     "u-1",
		SenderLocalID:   "L1",
		Body:            "hi",
		SenderTimestamp: sent,
		Type:            "text",
		ParentMessageID: &parent,
		PrimarySenderID: &fwd,
		FileInfo:        json.RawMessage(`{"storage_key":"k"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(101), got.GlobalID)
	assert.Equal(t, "L1", got.SenderLocalID)
	assert.Equal(t, created, got.CreatedAt)
	assert.Nil(t, got.IsDelivered)
	assert.Nil(t, got.IsRead)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`^INSERT\s+INTO\s+messages`).WillReturnError(errors.New("db down"))

	_, err := repo.Insert(context.Background(), &models.NewMessage{SenderID: "a", RecipientID: "b"})
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestFindUndelivered(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	t1 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	q := `(?s)^SELECT\s+id,.*FROM\s+messages\s+WHERE\s+recipient_id\s*=\s*\$1\s+AND\s+is_delivered\s+IS\s+NOT\s+TRUE\s+ORDER\s+BY\s+sender_timestamp\s+ASC`

	rows := sqlmock.NewRows(columns).
		AddRow(int64(1), "u-2", "u-1", "L1", "hi", t1, "text", nil, nil, nil, nil, nil, nil, false, nil, nil, nil, nil, t1).
		AddRow(int64(2), "u-3", "u-1", "G1", "yo", t2, "text", int64(1), "u-5", "X", "u-6", []byte(`{"name":"g"}`), nil, true, false, nil, nil, nil, t2)
	mock.ExpectQuery(q).WithArgs("u-1").WillReturnRows(rows)

	got, err := repo.FindUndelivered(context.Background(), "u-1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, int64(1), got[0].GlobalID)
	assert.Nil(t, got[0].IsDelivered)
	assert.Nil(t, got[0].ParentMessageID)
	assert.Nil(t, got[0].GroupInfo)

	assert.True(t, got[1].IsGroupMessage)
	require.NotNil(t, got[1].IsDelivered)
	assert.False(t, *got[1].IsDelivered)
	require.NotNil(t, got[1].ParentMessageID)
	assert.Equal(t, int64(1), *got[1].ParentMessageID)
	require.NotNil(t, got[1].PrimarySenderID)
	assert.Equal(t, "u-5", *got[1].PrimarySenderID)
	assert.JSONEq(t, `{"name":"g"}`, string(got[1].GroupInfo))
}

func TestFindUndelivered_Errors(t *testing.T) {
	t.Run("query", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()
		mock.ExpectQuery(`^SELECT`).WithArgs("u-1").WillReturnError(errors.New("boom"))
		_, err := repo.FindUndelivered(context.Background(), "u-1")
		require.ErrorContains(t, err, "db error: boom")
	})

	t.Run("row", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()
		rows := sqlmock.NewRows(columns).
			AddRow(int64(1), "u-2", "u-1", "L1", "hi", time.Now(), "text", nil, nil, nil, nil, nil, nil, false, nil, nil, nil, nil, time.Now()).
			RowError(0, errors.New("broken row"))
		mock.ExpectQuery(`^SELECT`).WithArgs("u-1").WillReturnRows(rows)
		_, err := repo.FindUndelivered(context.Background(), "u-1")
		require.ErrorContains(t, err, "broken row")
	})
}

func TestSetDelivered(t *testing.T) {
	q := `(?s)^UPDATE\s+messages\s+SET\s+is_delivered\s*=\s*TRUE,\s*delivery_timestamp\s*=\s*COALESCE\(delivery_timestamp,\s*\$3\)\s+WHERE\s+id\s*=\s*\$1\s+AND\s+recipient_id\s*=\s*\$2\s+RETURNING\s+id,\s*sender_id,\s*is_delivered,\s*delivery_timestamp$`
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	first := at.Add(-time.Hour)

	t.Run("keeps first timestamp", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()
		mock.ExpectQuery(q).WithArgs(int64(5), "u-1", at).
			WillReturnRows(sqlmock.NewRows([]string{"id", "sender_id", "is_delivered", "delivery_timestamp"}).
				AddRow(int64(5), "u-2", true, first))

		c, err := repo.SetDelivered(context.Background(), 5, "u-1", at)
		require.NoError(t, err)
		assert.Equal(t, "u-2", c.SenderID)
		assert.True(t, c.Flag)
		require.NotNil(t, c.Timestamp)
		assert.Equal(t, first, *c.Timestamp)
	})

	t.Run("not found", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()
		mock.ExpectQuery(q).WithArgs(int64(404), "u-1", at).WillReturnError(sql.ErrNoRows)

		_, err := repo.SetDelivered(context.Background(), 404, "u-1", at)
		require.ErrorIs(t, err, common.ErrorNotFound)
	})

	t.Run("db error", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()
		mock.ExpectQuery(q).WithArgs(int64(5), "u-1", at).WillReturnError(errors.New("timeout"))

		_, err := repo.SetDelivered(context.Background(), 5, "u-1", at)
		require.ErrorContains(t, err, "db error: timeout")
		assert.False(t, errors.Is(err, common.ErrorNotFound))
	})
}

func TestSetRead(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	q := `(?s)^UPDATE\s+messages\s+SET\s+is_read\s*=\s*TRUE,\s*read_timestamp\s*=\s*COALESCE\(read_timestamp,\s*\$3\)`
	mock.ExpectQuery(q).WithArgs(int64(5), "u-1", at).
		WillReturnRows(sqlmock.NewRows([]string{"id", "sender_id", "is_read", "read_timestamp"}).
			AddRow(int64(5), "u-2", true, at))

	c, err := repo.SetRead(context.Background(), 5, "u-1", at)
	require.NoError(t, err)
	assert.Equal(t, int64(5), c.GlobalID)
	assert.Equal(t, at, *c.Timestamp)
}

func TestGetDeliveryStatuses(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	q := `(?s)^SELECT\s+id,\s*COALESCE\(is_delivered,\s*FALSE\),\s*delivery_timestamp\s+FROM\s+messages\s+WHERE\s+id\s*=\s*ANY\(\$1\)\s+AND\s+\(sender_id\s*=\s*\$2\s+OR\s+recipient_id\s*=\s*\$2\)`
	mock.ExpectQuery(q).WithArgs([]int64{1, 2, 3}, "u-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "is_delivered", "delivery_timestamp"}).
			AddRow(int64(1), true, at).
			AddRow(int64(3), false, nil))

	got, err := repo.GetDeliveryStatuses(context.Background(), "u-1", []int64{1, 2, 3})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].IsDelivered)
	assert.Equal(t, at, *got[0].DeliveryTimestamp)
	assert.False(t, got[1].IsDelivered)
	assert.Nil(t, got[1].DeliveryTimestamp)
}

func TestGetReadStatuses(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+id,\s*COALESCE\(is_read,\s*FALSE\),\s*read_timestamp\s+FROM\s+messages`
	mock.ExpectQuery(q).WithArgs([]int64{9}, "u-1").WillReturnError(errors.New("db down"))

	_, err := repo.GetReadStatuses(context.Background(), "u-1", []int64{9})
	require.ErrorContains(t, err, "db error: db down")
}

func TestHasAttachment(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+EXISTS\s*\(SELECT\s+1\s+FROM\s+messages\s+WHERE\s+file_info->>'storage_key'\s*=\s*\$1`
	mock.ExpectQuery(q).WithArgs("attachments/k", "u-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(q).WithArgs("attachments/k", "u-7").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	ok, err := repo.HasAttachment(context.Background(), "u-1", "attachments/k")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.HasAttachment(context.Background(), "u-7", "attachments/k")
	require.NoError(t, err)
	assert.False(t, ok)
}
