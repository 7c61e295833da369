package syncstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"devtoolkit/internal/docstore"
	"devtoolkit/internal/localstore"
	"devtoolkit/internal/session"
)

// ErrNotReconciled reports a save attempted before the store was bound to
// the user's account copy.
var ErrNotReconciled = errors.New("account copy not reconciled")

type config struct {
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*config)

func WithLogger(l *zap.Logger) Option {
	return func(c *config) { c.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// localEnvelope is the on-disk shape of a value in local storage.
type localEnvelope struct {
	Payload   docstore.Fields `json:"payload"`
	UpdatedAt int64           `json:"updatedAt"`
}

// Store holds one SyncedValue. Local writes complete before Mutate returns;
// remote writes use the context passed in and their failures are only
// logged.
type Store[T any] struct {
	kind   Kind[T]
	desc   Descriptor
	local  localstore.Storage
	remote docstore.Backend
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	value     SyncedValue[T]
	user      string
	epoch     uint64
	lastStamp int64
	// settled is closed once the current epoch has no reconciliation
	// pending.
	settled chan struct{}
	pending bool

	emitMu    sync.Mutex
	subsMu    sync.Mutex
	subs      map[int]func(Event[T])
	nextSubID int

	bindMu     sync.Mutex
	unbind     func()
	bindCancel context.CancelFunc

	wgMu    sync.Mutex
	closing bool
	bindWG  sync.WaitGroup
}

// New builds a store and loads the local copy. remote may be nil, in which
// case the store is local-only.
func New[T any](kind Kind[T], local localstore.Storage, remote docstore.Backend, opts ...Option) *Store[T] {
	cfg := config{logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if local == nil {
		local = localstore.NewMemory()
	}

	desc := kind.Descriptor()
	s := &Store[T]{
		kind:    kind,
		desc:    desc,
		local:   local,
		remote:  remote,
		logger:  cfg.logger.Named("syncstore").With(zap.String("key", desc.LocalKey)),
		now:     cfg.now,
		subs:    make(map[int]func(Event[T])),
		settled: make(chan struct{}),
	}
	close(s.settled)
	s.Load()
	return s
}

// Load re-reads the local copy. Missing or corrupt data yields the default.
func (s *Store[T]) Load() SyncedValue[T] {
	v := s.readLocal()

	s.mu.Lock()
	s.value = v
	if v.UpdatedAt > s.lastStamp {
		s.lastStamp = v.UpdatedAt
	}
	s.publishLocked(Event[T]{Value: s.copyValue(v), Cause: CauseLoad})
	return s.copyValue(v)
}

func (s *Store[T]) readLocal() SyncedValue[T] {
	def := SyncedValue[T]{Payload: s.kind.Normalize(s.kind.Default()), Source: Local}

	raw, ok := s.local.GetItem(s.desc.LocalKey)
	if !ok || raw == "" {
		return def
	}

	var env localEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil || env.Payload == nil {
		s.logger.Debug("discarding unreadable local copy", zap.Error(err))
		return def
	}

	return SyncedValue[T]{
		Payload:   s.kind.Normalize(s.kind.Decode(env.Payload)),
		UpdatedAt: env.UpdatedAt,
		Source:    Local,
	}
}

func (s *Store[T]) writeLocalLocked(v SyncedValue[T]) {
	fields, err := docstore.Normalize(s.kind.Encode(v.Payload))
	if err != nil {
		s.logger.Warn("encode local copy", zap.Error(err))
		return
	}
	raw, err := json.Marshal(localEnvelope{Payload: fields, UpdatedAt: v.UpdatedAt})
	if err != nil {
		s.logger.Warn("encode local copy", zap.Error(err))
		return
	}
	if err := s.local.SetItem(s.desc.LocalKey, string(raw)); err != nil {
		s.logger.Warn("persist local copy", zap.Error(err))
	}
}

// Value returns a copy of the current value.
func (s *Store[T]) Value() SyncedValue[T] {
	s.mu.Lock()
	v := s.value
	s.mu.Unlock()
	return s.copyValue(v)
}

// SignedInUser returns the user the store has reconciled with, or "".
func (s *Store[T]) SignedInUser() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *Store[T]) copyValue(v SyncedValue[T]) SyncedValue[T] {
	v.Payload = s.kind.Normalize(s.kind.Decode(s.kind.Encode(v.Payload)))
	return v
}

func (s *Store[T]) nextStampLocked() int64 {
	ts := s.now().UnixMilli()
	if ts <= s.lastStamp {
		ts = s.lastStamp + 1
	}
	s.lastStamp = ts
	return ts
}

// Mutate replaces the payload.
func (s *Store[T]) Mutate(ctx context.Context, payload T) SyncedValue[T] {
	return s.apply(ctx, func(T) T { return payload }, CauseMutate)
}

// Update replaces the payload with fn applied to a copy of the current one.
func (s *Store[T]) Update(ctx context.Context, fn func(T) T) SyncedValue[T] {
	return s.apply(ctx, fn, CauseMutate)
}

// Reset restores the type default.
func (s *Store[T]) Reset(ctx context.Context) SyncedValue[T] {
	return s.apply(ctx, func(T) T { return s.kind.Default() }, CauseReset)
}

func (s *Store[T]) apply(ctx context.Context, fn func(T) T, cause Cause) SyncedValue[T] {
	s.mu.Lock()
	current := s.copyValue(s.value).Payload
	v := SyncedValue[T]{
		Payload:   s.kind.Normalize(fn(current)),
		UpdatedAt: s.nextStampLocked(),
		Source:    Local,
	}
	s.value = v
	s.writeLocalLocked(v)
	user := s.user
	s.publishLocked(Event[T]{Value: s.copyValue(v), Cause: cause})

	if user != "" {
		s.pushRemote(ctx, user, v)
	}
	return s.copyValue(v)
}

func (s *Store[T]) path(userID string) docstore.Path {
	return docstore.Path{UserID: userID, Collection: s.desc.Collection, DocID: s.desc.DocID}
}

// remoteFields encodes v into a fresh map with its stamps.
func (s *Store[T]) remoteFields(v SyncedValue[T]) docstore.Fields {
	fields := s.kind.Encode(v.Payload)
	out := make(docstore.Fields, len(fields)+2)
	for k, val := range fields {
		out[k] = val
	}
	out["updatedAt"] = v.UpdatedAt
	out["savedAt"] = s.now().UnixMilli()
	return out
}

func (s *Store[T]) pushRemote(ctx context.Context, userID string, v SyncedValue[T]) {
	if err := s.remote.Set(ctx, s.path(userID), s.remoteFields(v), docstore.SetOptions{Merge: true}); err != nil {
		s.logger.Warn("remote write failed, keeping local copy",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

// Push writes the current value to userID's document with a fresh stamp and,
// unlike the automatic writes, returns the remote error. It waits for a
// sign-in reconciliation in flight and refuses to write unless that
// reconciliation bound the store to userID.
func (s *Store[T]) Push(ctx context.Context, userID string) error {
	if s.remote == nil {
		return docstore.ErrUnavailable
	}

	if err := s.awaitSettledLocked(ctx); err != nil {
		return err
	}
	if s.user != userID {
		s.mu.Unlock()
		return fmt.Errorf("save %s: %w", s.desc.LocalKey, ErrNotReconciled)
	}
	v := s.value
	v.UpdatedAt = s.nextStampLocked()
	s.value = v
	s.writeLocalLocked(v)
	s.publishLocked(Event[T]{Value: s.copyValue(v), Cause: CausePush})

	if err := s.remote.Set(ctx, s.path(userID), s.remoteFields(v), docstore.SetOptions{Merge: true}); err != nil {
		return fmt.Errorf("save %s: %w", s.desc.LocalKey, err)
	}
	return nil
}

// awaitSettledLocked returns with s.mu held once the current epoch has no
// reconciliation pending.
func (s *Store[T]) awaitSettledLocked(ctx context.Context) error {
	for {
		s.mu.Lock()
		ch := s.settled
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}

		s.mu.Lock()
		if s.settled == ch {
			return nil
		}
		s.mu.Unlock()
	}
}

func (s *Store[T]) decodeRemote(doc *docstore.Document) SyncedValue[T] {
	updatedAt, ok := doc.Fields.Int64("updatedAt")
	if !ok {
		updatedAt = doc.UpdatedAt.UnixMilli()
	}
	return SyncedValue[T]{
		Payload:   s.kind.Normalize(s.kind.Decode(doc.Fields)),
		UpdatedAt: updatedAt,
		Source:    Remote,
	}
}

// OnSessionChange drops any remote binding and, for a signed-in session,
// reconciles with that user's document before binding to it.
func (s *Store[T]) OnSessionChange(ctx context.Context, sess session.Session) error {
	epoch := s.begin(sess.SignedIn())
	if !sess.SignedIn() {
		return nil
	}
	return s.reconcile(ctx, epoch, sess.UserID())
}

// begin starts a new epoch. When reconciling, the epoch stays unsettled
// until settle is called with it.
func (s *Store[T]) begin(reconciling bool) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.user = ""
	if s.pending {
		close(s.settled)
		s.pending = false
	}
	if reconciling {
		s.settled = make(chan struct{})
		s.pending = true
	}
	return s.epoch
}

func (s *Store[T]) settle(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch == epoch && s.pending {
		close(s.settled)
		s.pending = false
	}
}

func (s *Store[T]) reconcile(ctx context.Context, epoch uint64, userID string) error {
	defer s.settle(epoch)
	if s.remote == nil {
		return nil
	}

	var remote *SyncedValue[T]
	doc, err := s.remote.Get(ctx, s.path(userID))
	switch {
	case err == nil:
		rv := s.decodeRemote(doc)
		remote = &rv
	case errors.Is(err, docstore.ErrNotFound):
	default:
		s.logger.Warn("remote read failed, staying local-only", zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("reconcile %s: %w", s.desc.LocalKey, err)
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		s.logger.Debug("discarding stale reconciliation", zap.String("user_id", userID))
		return nil
	}

	chosen := s.value
	push := true
	if remote != nil && RemoteWins(s.value, *remote, s.kind.Progress) {
		chosen = *remote
		push = false
		if chosen.UpdatedAt > s.lastStamp {
			s.lastStamp = chosen.UpdatedAt
		}
		s.value = chosen
		s.writeLocalLocked(chosen)
	}
	s.user = userID
	s.publishLocked(Event[T]{Value: s.copyValue(chosen), Cause: CauseReconcile})

	s.logger.Debug("reconciled",
		zap.String("user_id", userID),
		zap.Stringer("winner", chosen.Source),
		zap.Bool("remote_present", remote != nil),
	)

	if push {
		s.pushRemote(ctx, userID, chosen)
	}
	return nil
}

// Export renders the current payload when the returned download is written.
func (s *Store[T]) Export() *Download {
	payload := s.Value().Payload
	return &Download{
		Filename: s.desc.ExportName,
		render:   func() string { return s.kind.Render(payload) },
	}
}

// Subscribe registers fn for value changes. Events are delivered one at a
// time in the order the changes were applied; fn must not mutate the store
// synchronously.
func (s *Store[T]) Subscribe(fn func(Event[T])) (cancel func()) {
	s.subsMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = fn
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

// publishLocked is called with s.mu held and releases it. Taking emitMu
// first keeps delivery in the same order as the changes.
func (s *Store[T]) publishLocked(e Event[T]) {
	s.emitMu.Lock()
	s.mu.Unlock()
	defer s.emitMu.Unlock()

	s.subsMu.Lock()
	fns := make([]func(Event[T]), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subsMu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}

// Bind follows w's session transitions until Close. Sign-outs take effect
// before the watcher's dispatch returns; reconciliation runs in the
// background.
func (s *Store[T]) Bind(w *session.Watcher) {
	ctx, cancel := context.WithCancel(context.Background())

	s.bindMu.Lock()
	if s.unbind != nil {
		s.bindMu.Unlock()
		cancel()
		return
	}
	s.bindCancel = cancel
	s.wgMu.Lock()
	s.closing = false
	s.wgMu.Unlock()
	h := w.Subscribe(func(sess session.Session) {
		epoch := s.begin(sess.SignedIn())
		if !sess.SignedIn() {
			return
		}
		uid := sess.UserID()
		s.wgMu.Lock()
		if s.closing {
			s.wgMu.Unlock()
			s.settle(epoch)
			return
		}
		s.bindWG.Add(1)
		s.wgMu.Unlock()
		go func() {
			defer s.bindWG.Done()
			if err := s.reconcile(ctx, epoch, uid); err != nil && ctx.Err() == nil {
				s.logger.Info("reconciliation skipped", zap.Error(err))
			}
		}()
	})
	s.unbind = func() { w.Unsubscribe(h) }
	s.bindMu.Unlock()
}

// Wait blocks until the reconciliations Bind has started so far finish. It
// must not race with a session change.
func (s *Store[T]) Wait() {
	s.bindWG.Wait()
}

// Close detaches from the watcher and waits for background reconciliation.
func (s *Store[T]) Close() {
	s.bindMu.Lock()
	unbind, cancel := s.unbind, s.bindCancel
	s.unbind, s.bindCancel = nil, nil
	s.bindMu.Unlock()

	if unbind != nil {
		unbind()
	}
	if cancel != nil {
		cancel()
	}
	s.wgMu.Lock()
	s.closing = true
	s.wgMu.Unlock()
	s.bindWG.Wait()
}
