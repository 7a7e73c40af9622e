package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atis/platform/internal/domain"
	"github.com/atis/platform/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func seedSession(t *testing.T, st *Store) *domain.Session {
	t.Helper()
	sess := &domain.Session{
		ID:             uuid.New(),
		UserID:         uuid.New(),
		DeviceID:       uuid.New(),
		TokenHash:      domain.HashToken(uuid.NewString()),
		StartedAt:      t0,
		LastActivityAt: t0,
		ExpiresAt:      t0.Add(8 * time.Hour),
		SecurityScore:  90,
		Status:         domain.SessionActive,
	}
	require.NoError(t, st.SessionRepo().Create(context.Background(), nil, sess))
	return sess
}

func TestSessionUpdate_CompareAndSwap(t *testing.T) {
	st := New()
	ctx := context.Background()
	repo := st.SessionRepo()
	sess := seedSession(t, st)

	first, _ := repo.FindByID(ctx, nil, sess.ID)
	second, _ := repo.FindByID(ctx, nil, sess.ID)

	first.SecurityScore = 70
	require.NoError(t, repo.Update(ctx, nil, first))
	assert.Equal(t, int64(1), first.Version)

	second.SecurityScore = 10
	err := repo.Update(ctx, nil, second)
	require.Error(t, err)
	assert.True(t, domain.IsConcurrencyConflict(err))

	stored := st.Session(sess.ID)
	assert.Equal(t, 70, stored.SecurityScore)
	assert.Equal(t, int64(1), stored.Version)
}

func TestSessionCreate_DuplicateToken(t *testing.T) {
	st := New()
	sess := seedSession(t, st)
	dup := *sess
	dup.ID = uuid.New()
	err := st.SessionRepo().Create(context.Background(), nil, &dup)
	assert.True(t, domain.HasCode(err, domain.CodeValidation))
}

func TestExpireIfStale_OnlyOnce(t *testing.T) {
	st := New()
	ctx := context.Background()
	repo := st.SessionRepo()
	sess := seedSession(t, st)

	now := t0.Add(time.Hour)
	cutoff := now.Add(-30 * time.Minute)

	ok, err := repo.ExpireIfStale(ctx, nil, sess.ID, now, cutoff)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ExpireIfStale(ctx, nil, sess.ID, now, cutoff)
	require.NoError(t, err)
	assert.False(t, ok)

	stored := st.Session(sess.ID)
	assert.Equal(t, domain.SessionExpired, stored.Status)
	assert.Equal(t, domain.ReasonTimeout, stored.TerminationReason)
}

func TestExpireIfStale_SkipsFreshSession(t *testing.T) {
	st := New()
	sess := seedSession(t, st)
	now := t0.Add(10 * time.Minute)
	ok, err := st.SessionRepo().ExpireIfStale(context.Background(), nil, sess.ID, now, now.Add(-30*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListExpirable(t *testing.T) {
	st := New()
	ctx := context.Background()
	fresh := seedSession(t, st)
	idle := seedSession(t, st)
	_ = fresh

	now := t0.Add(20 * time.Minute)
	s := st.Session(idle.ID)
	s.LastActivityAt = t0.Add(-time.Hour)
	require.NoError(t, st.SessionRepo().Update(ctx, nil, s))

	list, err := st.SessionRepo().ListExpirable(ctx, nil, now, now.Add(-30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, idle.ID, list[0].ID)
}

func TestInTx_RollsBackOnError(t *testing.T) {
	st := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := st.InTx(ctx, func(tx repository.DBTX) error {
		require.NoError(t, st.AlertRepo().Insert(ctx, tx, &domain.SecurityAlert{ID: uuid.New(), UserID: uuid.New()}))
		require.NoError(t, st.OutboxRepo().Insert(ctx, tx, domain.OutboxDraft{EventID: uuid.New()}))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, st.Alerts())
	assert.Empty(t, st.OutboxEvents())
}

func TestOutbox_FetchAndMark(t *testing.T) {
	st := New()
	ctx := context.Background()
	repo := st.OutboxRepo()
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Insert(ctx, nil, domain.OutboxDraft{EventID: uuid.New()}))
	}

	batch, err := repo.FetchUnpublished(ctx, nil, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, int64(1), batch[0].SeqID)
	assert.Equal(t, int64(2), batch[1].SeqID)

	require.NoError(t, repo.MarkPublished(ctx, nil, []int64{batch[0].SeqID, batch[1].SeqID}))
	rest := st.OutboxEvents()
	require.Len(t, rest, 1)
	assert.Equal(t, int64(3), rest[0].SeqID)
}

func TestAlertList_Filters(t *testing.T) {
	st := New()
	ctx := context.Background()
	user := uuid.New()
	sessionID := uuid.New()
	repo := st.AlertRepo()

	require.NoError(t, repo.Insert(ctx, nil, &domain.SecurityAlert{ID: uuid.New(), UserID: user, SessionID: &sessionID, DetectedAt: t0, Status: domain.AlertStatusOpen}))
	require.NoError(t, repo.Insert(ctx, nil, &domain.SecurityAlert{ID: uuid.New(), UserID: user, DetectedAt: t0.Add(time.Minute), Status: domain.AlertStatusOpen}))
	require.NoError(t, repo.Insert(ctx, nil, &domain.SecurityAlert{ID: uuid.New(), UserID: uuid.New(), DetectedAt: t0, Status: domain.AlertStatusOpen}))

	byUser, err := repo.List(ctx, nil, domain.AlertFilter{UserID: &user})
	require.NoError(t, err)
	require.Len(t, byUser, 2)
	assert.True(t, byUser[0].DetectedAt.After(byUser[1].DetectedAt))

	bySession, err := repo.List(ctx, nil, domain.AlertFilter{SessionID: &sessionID})
	require.NoError(t, err)
	assert.Len(t, bySession, 1)

	open, err := repo.CountOpenByUser(ctx, nil, user)
	require.NoError(t, err)
	assert.Equal(t, 2, open)
}

func TestFail_InjectsOnce(t *testing.T) {
	st := New()
	ctx := context.Background()
	boom := errors.New("db down")
	st.Fail(OpActivityInsert, boom)

	assert.ErrorIs(t, st.ActivityRepo().Insert(ctx, nil, &domain.Activity{ID: "a"}), boom)
	assert.NoError(t, st.ActivityRepo().Insert(ctx, nil, &domain.Activity{ID: "b"}))
}

func TestDeviceListByUser_NewestFirst(t *testing.T) {
	st := New()
	user := uuid.New()
	older := domain.Device{ID: uuid.New(), UserID: user, RegisteredAt: t0.Add(-48 * time.Hour)}
	newer := domain.Device{ID: uuid.New(), UserID: user, RegisteredAt: t0}
	st.PutDevice(older)
	st.PutDevice(newer)
	st.PutDevice(domain.Device{ID: uuid.New(), UserID: uuid.New(), RegisteredAt: t0})

	devices, err := st.DeviceRepo().ListByUser(context.Background(), nil, user)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, newer.ID, devices[0].ID)
	assert.Equal(t, older.ID, devices[1].ID)
}
