package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nimasrn/visit-reminders/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusLogRepository_AppendIgnoresProcessedFields(t *testing.T) {
	db := setupTestDB(t)
	repo := NewStatusLogRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	entry, err := repo.Append(ctx, &model.StatusLogEntry{
		ProviderMessageID: "wamid.X",
		Status:            model.MessageStatusFailed,
		ErrorPayload:      json.RawMessage(`[{"code":131026,"title":"Message undeliverable"}]`),
		Processed:         true,
		ProcessedAt:       &now,
		MessageID:         ptr(int64(3)),
	})
	require.NoError(t, err)
	assert.False(t, entry.Processed)
	assert.Nil(t, entry.ProcessedAt)
	assert.Nil(t, entry.MessageID)

	open, err := repo.ListUnprocessed(ctx, "wamid.X")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.JSONEq(t, `[{"code":131026,"title":"Message undeliverable"}]`, string(open[0].ErrorPayload))
}

func TestStatusLogRepository_Claim(t *testing.T) {
	db := setupTestDB(t)
	repo := NewStatusLogRepository(db)
	ctx := context.Background()

	entry, err := repo.Append(ctx, &model.StatusLogEntry{ProviderMessageID: "wamid.Y", Status: model.MessageStatusDelivered})
	require.NoError(t, err)

	at := time.Now().UTC()
	claimed, err := repo.Claim(ctx, entry.ID, 42, at)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = repo.Claim(ctx, entry.ID, 43, at.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, claimed, "an entry is processed once")

	all, err := repo.ListByProviderID(ctx, "wamid.Y")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Processed)
	require.NotNil(t, all[0].MessageID)
	assert.Equal(t, int64(42), *all[0].MessageID)
	assert.Equal(t, model.MessageStatusDelivered, all[0].Status)

	open, err := repo.ListUnprocessed(ctx, "wamid.Y")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestStatusLogRepository_ListStaleProviderIDs(t *testing.T) {
	db := setupTestDB(t)
	repo := NewStatusLogRepository(db)
	ctx := context.Background()

	old := time.Now().UTC().Add(-time.Hour)
	for _, pid := range []string{"wamid.B", "wamid.A", "wamid.B"} {
		_, err := repo.Append(ctx, &model.StatusLogEntry{ProviderMessageID: pid, Status: model.MessageStatusSent, CreatedAt: old})
		require.NoError(t, err)
	}
	fresh, err := repo.Append(ctx, &model.StatusLogEntry{ProviderMessageID: "wamid.C", Status: model.MessageStatusSent})
	require.NoError(t, err)
	require.NotNil(t, fresh)

	cutoff := time.Now().UTC().Add(-5 * time.Minute)
	ids, err := repo.ListStaleProviderIDs(ctx, cutoff, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"wamid.B", "wamid.A"}, ids)

	ids, err = repo.ListStaleProviderIDs(ctx, cutoff, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"wamid.B"}, ids)

	n, err := repo.CountUnprocessed(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
