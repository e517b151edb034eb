package queue

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"velofood-client-go/internal/platform/logging"
)

const logTag = "QUEUE"

// ErrClosed is returned by Enqueue after the manager has been shut down.
var ErrClosed = errors.New("queue manager closed")

// Operation is a unit of deferred work. It must call next exactly once when
// all of its work, including asynchronous follow-up, has finished — success
// or failure makes no difference to the queue. Extra calls to next are
// ignored.
type Operation func(next func())

// Manager owns a set of named FIFO queues. Entries submitted to the same
// name execute strictly one after another; distinct names make progress
// independently. Entries are never dropped or reordered.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*namedQueue
	logger *logging.Logger
	closed bool
	wg     sync.WaitGroup
}

// NewManager builds an empty queue manager.
func NewManager(logger *logging.Logger) *Manager {
	return &Manager{
		queues: make(map[string]*namedQueue),
		logger: logger,
	}
}

// Enqueue appends op to the tail of the named queue, creating the queue on
// first use. An idle queue starts executing immediately; a busy one runs the
// entry once every earlier entry has signalled completion.
func (m *Manager) Enqueue(name string, op Operation) error {
	if op == nil {
		return errors.New("nil operation")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	q, ok := m.queues[name]
	if !ok {
		q = &namedQueue{name: name, manager: m}
		m.queues[name] = q
	}
	m.mu.Unlock()

	q.push(entry{id: uuid.NewString(), op: op})
	return nil
}

// Pending reports how many entries are queued or executing on the named
// queue.
func (m *Manager) Pending(name string) int {
	m.mu.Lock()
	q, ok := m.queues[name]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	return q.pending()
}

// Close rejects further submissions. Entries already queued still run;
// Close blocks until every queue drains.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wg.Wait()
}

type entry struct {
	id string
	op Operation
}

// namedQueue is one FIFO lane. The running flag is flipped under the mutex
// before the dispatch goroutine starts, so at most one dispatcher exists per
// name at any time.
type namedQueue struct {
	name    string
	manager *Manager

	mu      sync.Mutex
	entries []entry
	running bool
}

func (q *namedQueue) push(e entry) {
	q.mu.Lock()
	q.entries = append(q.entries, e)
	start := !q.running
	if start {
		q.running = true
		q.manager.wg.Add(1)
	}
	q.mu.Unlock()

	q.manager.logger.DebugTag(logTag, "enqueued", "queue", q.name, "entry", e.id)

	if start {
		go q.dispatch()
	}
}

// dispatch drains the queue one entry at a time. Each entry gets a one-shot
// next: the dispatcher blocks until it fires, then moves on immediately.
func (q *namedQueue) dispatch() {
	defer q.manager.wg.Done()
	for {
		q.mu.Lock()
		if len(q.entries) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		e := q.entries[0]
		q.entries = q.entries[1:]
		q.mu.Unlock()

		q.manager.logger.DebugTag(logTag, "executing", "queue", q.name, "entry", e.id)

		done := make(chan struct{})
		var once sync.Once
		next := func() {
			once.Do(func() { close(done) })
		}
		e.op(next)
		<-done

		q.manager.logger.DebugTag(logTag, "completed", "queue", q.name, "entry", e.id)
	}
}

func (q *namedQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.entries)
	if q.running {
		n++
	}
	return n
}
