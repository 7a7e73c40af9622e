// Package memory is an in-process implementation of every repository
// interface. It mirrors the Postgres semantics that callers rely on: version
// compare-and-swap on sessions, conditional expiry, append-only activities
// and rollback of writes made inside InTx.
package memory

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/atis/platform/internal/domain"
	"github.com/atis/platform/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type loginAttempt struct {
	userID  uuid.UUID
	ip      string
	success bool
	at      time.Time
}

// Store holds all tables in memory. The zero value is not usable; call New.
type Store struct {
	mu         sync.Mutex
	txMu       sync.Mutex
	sessions   map[uuid.UUID]*domain.Session
	devices    map[uuid.UUID]*domain.Device
	activities []domain.Activity
	alerts     []domain.SecurityAlert
	attempts   []loginAttempt
	outbox     []domain.OutboxDraft
	nextSeq    int64
	failures   map[string]error

	// BeforeSessionUpdate, when set, runs ahead of each session
	// compare-and-swap without the store lock held.
	BeforeSessionUpdate func(id uuid.UUID)
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		sessions: make(map[uuid.UUID]*domain.Session),
		devices:  make(map[uuid.UUID]*domain.Device),
		failures: make(map[string]error),
	}
}

// Operation names accepted by Fail.
const (
	OpSessionCreate  = "sessions.create"
	OpSessionUpdate  = "sessions.update"
	OpSessionExpire  = "sessions.expire"
	OpActivityInsert = "activities.insert"
	OpAlertInsert    = "alerts.insert"
	OpDeviceTouch    = "devices.touch"
	OpOutboxInsert   = "outbox.insert"
	OpOutboxFetch    = "outbox.fetch"
	OpOutboxMark     = "outbox.mark"
)

// Fail makes the next call of op return err.
func (s *Store) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// takeFailure must be called with s.mu held.
func (s *Store) takeFailure(op string) error {
	err, ok := s.failures[op]
	if !ok {
		return nil
	}
	delete(s.failures, op)
	return err
}

// DB returns nil: memory repositories ignore the connection argument.
func (s *Store) DB() repository.DBTX { return nil }

var errRawSQL = errors.New("memory: raw SQL is not supported")

// tx journals undo steps for writes made through it. Writes made with any
// other handle are not rolled back.
type tx struct {
	undo []func()
}

func (*tx) Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errRawSQL
}

func (*tx) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	return nil, errRawSQL
}

func (*tx) QueryRow(context.Context, string, ...interface{}) pgx.Row { return errRow{} }

type errRow struct{}

func (errRow) Scan(...any) error { return errRawSQL }

// InTx runs fn with a journaling handle and undoes its writes when fn fails.
// Transactions are serialized.
func (s *Store) InTx(_ context.Context, fn func(tx repository.DBTX) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	t := &tx{}
	if err := fn(t); err != nil {
		s.mu.Lock()
		for i := len(t.undo) - 1; i >= 0; i-- {
			t.undo[i]()
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// journal must be called with s.mu held.
func journal(db repository.DBTX, undo func()) {
	if t, ok := db.(*tx); ok {
		t.undo = append(t.undo, undo)
	}
}

// Repository accessors.

func (s *Store) SessionRepo() repository.SessionRepository           { return sessionRepo{s} }
func (s *Store) ActivityRepo() repository.ActivityRepository         { return activityRepo{s} }
func (s *Store) AlertRepo() repository.AlertRepository               { return alertRepo{s} }
func (s *Store) DeviceRepo() repository.DeviceRepository             { return deviceRepo{s} }
func (s *Store) LoginAttemptRepo() repository.LoginAttemptRepository { return loginAttemptRepo{s} }
func (s *Store) OutboxRepo() repository.OutboxRepository             { return outboxRepo{s} }

// Seeding and inspection helpers for tests.

// PutDevice inserts or replaces a device.
func (s *Store) PutDevice(d domain.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[d.ID] = &d
}

// Device returns a copy of a stored device, or nil.
func (s *Store) Device(id uuid.UUID) *domain.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return nil
	}
	c := *d
	return &c
}

// Session returns a copy of a stored session, or nil.
func (s *Store) Session(id uuid.UUID) *domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	return sess.Clone()
}

// Alerts returns every stored alert in insertion order.
func (s *Store) Alerts() []domain.SecurityAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.SecurityAlert(nil), s.alerts...)
}

// Activities returns every stored activity in insertion order.
func (s *Store) Activities() []domain.Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Activity(nil), s.activities...)
}

// OutboxEvents returns the unpublished outbox rows in insertion order.
func (s *Store) OutboxEvents() []domain.OutboxDraft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OutboxDraft(nil), s.outbox...)
}

// --- sessions ---

type sessionRepo struct{ s *Store }

func (r sessionRepo) Create(_ context.Context, db repository.DBTX, sess *domain.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.takeFailure(OpSessionCreate); err != nil {
		return err
	}
	for _, existing := range r.s.sessions {
		if existing.TokenHash == sess.TokenHash {
			return domain.ErrValidation("session token already in use")
		}
	}
	r.s.sessions[sess.ID] = sess.Clone()
	id := sess.ID
	journal(db, func() { delete(r.s.sessions, id) })
	return nil
}

func (r sessionRepo) FindByID(_ context.Context, _ repository.DBTX, id uuid.UUID) (*domain.Session, error) {
	return r.s.Session(id), nil
}

func (r sessionRepo) FindByTokenHash(_ context.Context, _ repository.DBTX, tokenHash string) (*domain.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sess := range r.s.sessions {
		if sess.TokenHash == tokenHash {
			return sess.Clone(), nil
		}
	}
	return nil, nil
}

func (r sessionRepo) Update(_ context.Context, db repository.DBTX, sess *domain.Session) error {
	if hook := r.s.BeforeSessionUpdate; hook != nil {
		hook(sess.ID)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.takeFailure(OpSessionUpdate); err != nil {
		return err
	}
	stored, ok := r.s.sessions[sess.ID]
	if !ok || stored.Version != sess.Version {
		return domain.ErrConcurrencyConflict(sess.ID.String())
	}
	next := sess.Clone()
	next.Version++
	r.s.sessions[sess.ID] = next
	sess.Version++
	journal(db, func() { r.s.sessions[stored.ID] = stored })
	return nil
}

func (r sessionRepo) ExpireIfStale(_ context.Context, db repository.DBTX, id uuid.UUID, now, idleCutoff time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.takeFailure(OpSessionExpire); err != nil {
		return false, err
	}
	sess, ok := r.s.sessions[id]
	if !ok || sess.Status != domain.SessionActive || !stale(sess, now, idleCutoff) {
		return false, nil
	}
	at := now
	next := sess.Clone()
	next.Status = domain.SessionExpired
	next.TerminatedAt = &at
	next.TerminationReason = domain.ReasonTimeout
	next.Version++
	r.s.sessions[id] = next
	journal(db, func() { r.s.sessions[id] = sess })
	return true, nil
}

func (r sessionRepo) ListExpirable(_ context.Context, _ repository.DBTX, now, idleCutoff time.Time, limit int) ([]domain.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Session
	for _, sess := range r.s.sessions {
		if sess.Status == domain.SessionActive && stale(sess, now, idleCutoff) {
			out = append(out, *sess.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r sessionRepo) ListByUser(_ context.Context, _ repository.DBTX, userID uuid.UUID, status domain.SessionStatus) ([]domain.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Session
	for _, sess := range r.s.sessions {
		if sess.UserID == userID && (status == "" || sess.Status == status) {
			out = append(out, *sess.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func stale(sess *domain.Session, now, idleCutoff time.Time) bool {
	return !sess.ExpiresAt.After(now) || sess.LastActivityAt.Before(idleCutoff)
}

// --- activities ---

type activityRepo struct{ s *Store }

func (r activityRepo) Insert(_ context.Context, db repository.DBTX, a *domain.Activity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.takeFailure(OpActivityInsert); err != nil {
		return err
	}
	r.s.activities = append(r.s.activities, *a)
	id := a.ID
	journal(db, func() {
		r.s.activities = slices.DeleteFunc(r.s.activities, func(x domain.Activity) bool { return x.ID == id })
	})
	return nil
}

func (r activityRepo) CountSince(_ context.Context, _ repository.DBTX, sessionID uuid.UUID, since time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, a := range r.s.activities {
		if a.SessionID == sessionID && !a.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r activityRepo) ListBySession(_ context.Context, _ repository.DBTX, sessionID uuid.UUID) ([]domain.Activity, error) {
	return r.filter(func(a domain.Activity) bool { return a.SessionID == sessionID }), nil
}

func (r activityRepo) ListByUserSince(_ context.Context, _ repository.DBTX, userID uuid.UUID, since time.Time) ([]domain.Activity, error) {
	return r.filter(func(a domain.Activity) bool {
		return a.UserID == userID && !a.CreatedAt.Before(since)
	}), nil
}

func (r activityRepo) CountByUserSince(ctx context.Context, db repository.DBTX, userID uuid.UUID, since time.Time) (int, error) {
	list, _ := r.ListByUserSince(ctx, db, userID, since)
	return len(list), nil
}

func (r activityRepo) filter(keep func(domain.Activity) bool) []domain.Activity {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Activity
	for _, a := range r.s.activities {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// --- alerts ---

type alertRepo struct{ s *Store }

func (r alertRepo) Insert(_ context.Context, db repository.DBTX, a *domain.SecurityAlert) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.takeFailure(OpAlertInsert); err != nil {
		return err
	}
	r.s.alerts = append(r.s.alerts, *a)
	id := a.ID
	journal(db, func() {
		r.s.alerts = slices.DeleteFunc(r.s.alerts, func(x domain.SecurityAlert) bool { return x.ID == id })
	})
	return nil
}

func (r alertRepo) List(_ context.Context, _ repository.DBTX, f domain.AlertFilter) ([]domain.SecurityAlert, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.SecurityAlert
	for _, a := range r.s.alerts {
		if f.UserID != nil && a.UserID != *f.UserID {
			continue
		}
		if f.SessionID != nil && (a.SessionID == nil || *a.SessionID != *f.SessionID) {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r alertRepo) CountOpenByUser(_ context.Context, _ repository.DBTX, userID uuid.UUID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, a := range r.s.alerts {
		if a.UserID == userID && a.Status == domain.AlertStatusOpen {
			n++
		}
	}
	return n, nil
}

// --- devices ---

type deviceRepo struct{ s *Store }

func (r deviceRepo) FindByID(_ context.Context, _ repository.DBTX, id uuid.UUID) (*domain.Device, error) {
	return r.s.Device(id), nil
}

func (r deviceRepo) ListByUser(_ context.Context, _ repository.DBTX, userID uuid.UUID) ([]domain.Device, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Device
	for _, d := range r.s.devices {
		if d.UserID == userID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegisteredAt.After(out[j].RegisteredAt) })
	return out, nil
}

func (r deviceRepo) TouchActivity(_ context.Context, db repository.DBTX, id uuid.UUID, ip string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.takeFailure(OpDeviceTouch); err != nil {
		return err
	}
	prev, ok := r.s.devices[id]
	if !ok {
		return nil
	}
	next := *prev
	seen := at
	next.LastSeenAt = &seen
	if ip != "" {
		next.LastIP = ip
	}
	r.s.devices[id] = &next
	journal(db, func() { r.s.devices[id] = prev })
	return nil
}

// --- login attempts ---

type loginAttemptRepo struct{ s *Store }

func (r loginAttemptRepo) Record(_ context.Context, _ repository.DBTX, userID uuid.UUID, ip string, success bool, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.attempts = append(r.s.attempts, loginAttempt{userID: userID, ip: ip, success: success, at: at})
	return nil
}

func (r loginAttemptRepo) CountFailuresSince(_ context.Context, _ repository.DBTX, userID uuid.UUID, since time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, a := range r.s.attempts {
		if a.userID == userID && !a.success && a.at.After(since) {
			n++
		}
	}
	return n, nil
}

// --- outbox ---

type outboxRepo struct{ s *Store }

func (r outboxRepo) Insert(_ context.Context, db repository.DBTX, draft domain.OutboxDraft) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.takeFailure(OpOutboxInsert); err != nil {
		return err
	}
	r.s.nextSeq++
	draft.SeqID = r.s.nextSeq
	r.s.outbox = append(r.s.outbox, draft)
	seq := draft.SeqID
	journal(db, func() {
		r.s.outbox = slices.DeleteFunc(r.s.outbox, func(x domain.OutboxDraft) bool { return x.SeqID == seq })
	})
	return nil
}

func (r outboxRepo) FetchUnpublished(_ context.Context, _ repository.DBTX, limit int) ([]domain.OutboxDraft, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.takeFailure(OpOutboxFetch); err != nil {
		return nil, err
	}
	n := min(limit, len(r.s.outbox))
	return append([]domain.OutboxDraft(nil), r.s.outbox[:n]...), nil
}

func (r outboxRepo) MarkPublished(_ context.Context, _ repository.DBTX, ids []int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.takeFailure(OpOutboxMark); err != nil {
		return err
	}
	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := r.s.outbox[:0]
	for _, d := range r.s.outbox {
		if !drop[d.SeqID] {
			kept = append(kept, d)
		}
	}
	r.s.outbox = kept
	return nil
}

var (
	_ repository.Transactor             = (*Store)(nil)
	_ repository.SessionRepository      = sessionRepo{}
	_ repository.ActivityRepository     = activityRepo{}
	_ repository.AlertRepository        = alertRepo{}
	_ repository.DeviceRepository       = deviceRepo{}
	_ repository.LoginAttemptRepository = loginAttemptRepo{}
	_ repository.OutboxRepository       = outboxRepo{}
)
