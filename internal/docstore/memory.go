package docstore

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Backend. Watchers receive snapshots on their own
// goroutine; a slow watcher only ever sees the latest pending snapshot.
type Memory struct {
	mu       sync.Mutex
	now      func() time.Time
	docs     map[CollectionPath]map[string]Document
	seq      map[CollectionPath]uint64
	watchers map[CollectionPath]map[*memoryWatch]struct{}
	failure  error

	writes  int
	watches int
}

func NewMemory() *Memory {
	return &Memory{
		now:      time.Now,
		docs:     make(map[CollectionPath]map[string]Document),
		seq:      make(map[CollectionPath]uint64),
		watchers: make(map[CollectionPath]map[*memoryWatch]struct{}),
	}
}

// SetClock replaces the time source used for created/updated stamps.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// SetFailure makes every subsequent call fail with err until cleared with nil.
func (m *Memory) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = err
}

// FailWatchers delivers err to every live watcher and drops them.
func (m *Memory) FailWatchers(err error) {
	m.mu.Lock()
	var failed []*memoryWatch
	for c, ws := range m.watchers {
		for w := range ws {
			failed = append(failed, w)
		}
		delete(m.watchers, c)
	}
	m.mu.Unlock()

	for _, w := range failed {
		w.fail(err)
	}
}

// Writes counts successful Set and Delete calls.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Watches counts Watch calls that produced a subscription.
func (m *Memory) Watches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watches
}

// ActiveWatches counts subscriptions that have not been cancelled or failed.
func (m *Memory) ActiveWatches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ws := range m.watchers {
		n += len(ws)
	}
	return n
}

func (m *Memory) Get(ctx context.Context, p Path) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return nil, m.failure
	}

	doc, ok := m.docs[p.CollectionPath()][p.DocID]
	if !ok {
		return nil, ErrNotFound
	}
	out, err := copyDocument(doc)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *Memory) Set(ctx context.Context, p Path, fields Fields, opts SetOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	incoming, err := Normalize(fields)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.failure != nil {
		err := m.failure
		m.mu.Unlock()
		return err
	}

	c := p.CollectionPath()
	if m.docs[c] == nil {
		m.docs[c] = make(map[string]Document)
	}
	now := m.now()
	doc, exists := m.docs[c][p.DocID]
	if !exists || !opts.Merge {
		createdAt := doc.CreatedAt
		doc = Document{ID: p.DocID, Fields: Fields{}, CreatedAt: createdAt}
	}
	for k, v := range incoming {
		doc.Fields[k] = v
	}
	if opts.StampCreated && doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	m.docs[c][p.DocID] = doc
	m.writes++
	m.publishLocked(c)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(ctx context.Context, p Path) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return m.failure
	}

	c := p.CollectionPath()
	if _, ok := m.docs[c][p.DocID]; !ok {
		return ErrNotFound
	}
	delete(m.docs[c], p.DocID)
	m.writes++
	m.publishLocked(c)
	return nil
}

func (m *Memory) Watch(ctx context.Context, c CollectionPath, onSnapshot func(Snapshot), onError func(error)) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return nil, m.failure
	}

	w := &memoryWatch{
		owner:      m,
		collection: c,
		onSnapshot: onSnapshot,
		onError:    onError,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	if m.watchers[c] == nil {
		m.watchers[c] = make(map[*memoryWatch]struct{})
	}
	m.watchers[c][w] = struct{}{}
	m.watches++

	w.offer(m.snapshotLocked(c))
	go w.run()
	return w, nil
}

func (m *Memory) snapshotLocked(c CollectionPath) Snapshot {
	docs := make([]Document, 0, len(m.docs[c]))
	for _, d := range m.docs[c] {
		cp, err := copyDocument(d)
		if err != nil {
			continue
		}
		docs = append(docs, cp)
	}
	SortDocs(docs)
	return Snapshot{Collection: c, Docs: docs, Seq: m.seq[c]}
}

func (m *Memory) publishLocked(c CollectionPath) {
	m.seq[c]++
	if len(m.watchers[c]) == 0 {
		return
	}
	snap := m.snapshotLocked(c)
	for w := range m.watchers[c] {
		w.offer(snap)
	}
}

func (m *Memory) remove(w *memoryWatch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ws, ok := m.watchers[w.collection]; ok {
		delete(ws, w)
		if len(ws) == 0 {
			delete(m.watchers, w.collection)
		}
	}
}

type memoryWatch struct {
	owner      *Memory
	collection CollectionPath
	onSnapshot func(Snapshot)
	onError    func(error)

	mu      sync.Mutex
	pending *Snapshot
	err     error
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func (w *memoryWatch) offer(s Snapshot) {
	w.mu.Lock()
	w.pending = &s
	w.mu.Unlock()
	w.signal()
}

func (w *memoryWatch) fail(err error) {
	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
	w.signal()
}

func (w *memoryWatch) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *memoryWatch) run() {
	for {
		select {
		case <-w.done:
			return
		case <-w.wake:
		}

		w.mu.Lock()
		snap, err := w.pending, w.err
		w.pending = nil
		w.mu.Unlock()

		select {
		case <-w.done:
			return
		default:
		}

		if err != nil {
			if w.onError != nil {
				w.onError(err)
			}
			w.Cancel()
			return
		}
		if snap != nil && w.onSnapshot != nil {
			w.onSnapshot(*snap)
		}
	}
}

func (w *memoryWatch) Cancel() {
	w.once.Do(func() {
		close(w.done)
		w.owner.remove(w)
	})
}

func copyDocument(d Document) (Document, error) {
	f, err := Normalize(d.Fields)
	if err != nil {
		return Document{}, err
	}
	d.Fields = f
	return d, nil
}
