package scans

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hugh/scanhub/internal/database/models"
	"github.com/hugh/scanhub/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinish_InconsistentCompletionFails(t *testing.T) {
	db := testutil.SetupTestDB(t)
	row := testutil.CreateTestScan(t, db, testutil.CreateTestUser(t, db).ID, models.ScanTypePort, models.ScanStatusRunning)

	store := NewGormStore(db, nil)
	m := NewManager(store, testutil.NewFakeBackend(), ManagerOptions{})
	ctx := context.Background()

	rec, err := store.Get(ctx, row.ID)
	require.NoError(t, err)

	// Completed without results cannot be stored as completed.
	now := time.Now().UTC()
	require.NoError(t, m.finish(ctx, rec, StatusRunning, Changes{Status: StatusCompleted, CompletedAt: &now}))

	got, err := store.Get(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, KindMalformedResponse, got.ErrorKind)
	assert.Contains(t, got.ErrorMessage, "inconsistent outcome")
	assert.NoError(t, got.CheckInvariants())
}

func TestCheckOutcome(t *testing.T) {
	m := NewManager(nil, nil, ManagerOptions{})
	started := time.Now().UTC()
	rec := &Record{Status: StatusRunning, StartedAt: &started}
	done := started.Add(time.Second)

	t.Run("consistent completion passes", func(t *testing.T) {
		ch := Changes{Status: StatusCompleted, Results: json.RawMessage(`{"openPorts":[22]}`), CompletedAt: &done}
		assert.Equal(t, ch, m.checkOutcome(rec, ch))
	})

	t.Run("failure passes", func(t *testing.T) {
		ch := Changes{Status: StatusFailed, ErrorKind: KindTimeout, ErrorMessage: "slow", CompletedAt: &done}
		assert.Equal(t, ch, m.checkOutcome(rec, ch))
	})

	t.Run("missing completion time fails", func(t *testing.T) {
		ch := Changes{Status: StatusCompleted, Results: json.RawMessage(`{}`)}
		got := m.checkOutcome(rec, ch)
		assert.Equal(t, StatusFailed, got.Status)
		assert.Equal(t, KindMalformedResponse, got.ErrorKind)
		assert.NotNil(t, got.CompletedAt)
	})
}
