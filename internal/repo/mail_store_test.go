package repo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"meshreg/internal/models"
)

func testMail(recipient string) *models.Mail {
	return &models.Mail{
		MailType:  models.MailMonitoringOffline1,
		Sender:    "noreply@mesh.example",
		Recipient: recipient,
		Data:      datatypes.JSON([]byte(`{"hostname":"ff-a"}`)),
	}
}

func TestPendingOrderAndCap(t *testing.T) {
	s := NewMailStore(newTestDB(t))
	ctx := context.Background()

	first := testMail("a@example.org")
	second := testMail("b@example.org")
	capped := testMail("c@example.org")
	capped.Failures = 5
	for _, m := range []*models.Mail{first, second, capped} {
		require.NoError(t, s.Enqueue(ctx, m))
	}

	mails, err := s.Pending(ctx, time.Now().Add(time.Minute), 5, 50)
	require.NoError(t, err)
	require.Len(t, mails, 2)
	assert.Equal(t, first.ID, mails[0].ID)
	assert.Equal(t, second.ID, mails[1].ID)

	// выведенное из ротации письмо остаётся доступным оператору
	got, err := s.Get(ctx, capped.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Failures)
}

func TestPendingSnapshotExcludesFresh(t *testing.T) {
	s := NewMailStore(newTestDB(t))
	ctx := context.Background()
	require.NoError(t, s.Enqueue(ctx, testMail("a@example.org")))

	mails, err := s.Pending(ctx, time.Now().Add(-time.Minute), 5, 50)
	require.NoError(t, err)
	assert.Empty(t, mails)
}

func TestRecordFailure(t *testing.T) {
	s := NewMailStore(newTestDB(t))
	ctx := context.Background()
	m := testMail("a@example.org")
	require.NoError(t, s.Enqueue(ctx, m))

	require.NoError(t, s.RecordFailure(ctx, m.ID))
	require.NoError(t, s.RecordFailure(ctx, m.ID))

	got, err := s.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Failures)

	require.ErrorIs(t, s.RecordFailure(ctx, m.ID+100), ErrMailNotFound)
}

func TestResetFailures(t *testing.T) {
	s := NewMailStore(newTestDB(t))
	ctx := context.Background()
	m := testMail("a@example.org")
	m.Failures = 5
	require.NoError(t, s.Enqueue(ctx, m))

	require.NoError(t, s.ResetFailures(ctx, m.ID))
	got, err := s.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Failures)

	// повторный сброс уже нулевого счётчика — не «письмо пропало»
	// (на MySQL RowsAffected считает изменённые строки, не найденные)
	require.NoError(t, s.ResetFailures(ctx, m.ID))

	require.ErrorIs(t, s.ResetFailures(ctx, m.ID+100), ErrMailNotFound)
}

func TestDeleteMail(t *testing.T) {
	s := NewMailStore(newTestDB(t))
	ctx := context.Background()
	m := testMail("a@example.org")
	require.NoError(t, s.Enqueue(ctx, m))

	require.NoError(t, s.Delete(ctx, m.ID))
	require.ErrorIs(t, s.Delete(ctx, m.ID), ErrMailNotFound)
	_, err := s.Get(ctx, m.ID)
	require.ErrorIs(t, err, ErrMailNotFound)
}
