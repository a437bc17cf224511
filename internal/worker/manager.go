package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"fridgeclinic/internal/models"
	"fridgeclinic/internal/redis"
)

const (
	queueLen           = 16
	defaultIdleTimeout = 5 * time.Minute
)

var (
	ErrQueueFull = errors.New("conversation queue full")
	errStopped   = errors.New("worker manager stopped")
)

// Loader reads a conversation's messages from the database.
type Loader func(ctx context.Context, conversationID string) ([]models.Message, error)

// Job runs with the current history and returns the messages it stored.
// Returned messages are appended to the cached history even when err is set.
type Job func(ctx context.Context, history []models.Message) ([]models.Message, error)

// Manager serialises work per conversation: jobs for the same conversation
// never overlap, jobs for different conversations run concurrently. It keeps
// each conversation's history warm in memory and in redis, and tells other
// replicas to drop their copy when it changes.
type Manager struct {
	mu      sync.Mutex
	workers map[string]*conversationWorker
	stopped bool

	state       *historyState
	cache       *stateRedis
	idleTimeout time.Duration
}

func NewManager(rdb *redis.Client) *Manager {
	return &Manager{
		workers:     make(map[string]*conversationWorker),
		state:       newHistoryState(),
		cache:       newStateCache(rdb),
		idleTimeout: defaultIdleTimeout,
	}
}

// SetIdleTimeout controls how long a conversation worker lingers without work.
func (m *Manager) SetIdleTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.idleTimeout = d
	m.mu.Unlock()
}

// Run queues job behind any earlier job for the conversation and waits for it.
func (m *Manager) Run(ctx context.Context, conversationID string, load Loader, job Job) error {
	if conversationID == "" {
		return errors.New("conversation id required")
	}
	if load == nil || job == nil {
		return errors.New("loader and job required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	t := task{ctx: ctx, load: load, job: job, done: make(chan error, 1)}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return errStopped
	}
	w := m.ensureWorkerLocked(conversationID)
	select {
	case w.taskCh <- t:
	default:
		m.mu.Unlock()
		return ErrQueueFull
	}
	m.mu.Unlock()

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Purge forgets a conversation everywhere, typically after it was deleted.
func (m *Manager) Purge(conversationID string) {
	m.state.purge(conversationID)
	m.cache.invalidateHistory(conversationID)
	m.cache.publishInvalidation(invalidateMessage{ConversationID: conversationID})
}

// Listen applies invalidations published by other replicas until ctx is done.
func (m *Manager) Listen(ctx context.Context) error {
	m.cache.listen(ctx, func(msg invalidateMessage) {
		m.state.purge(msg.ConversationID)
	})
	return nil
}

// Stop ends every worker. Queued jobs fail with an error.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	for id, w := range m.workers {
		close(w.stopCh)
		delete(m.workers, id)
	}
	m.state.reset()
}

func (m *Manager) ensureWorkerLocked(conversationID string) *conversationWorker {
	if w, ok := m.workers[conversationID]; ok {
		return w
	}
	w := newConversationWorker(m.idleTimeout)
	m.workers[conversationID] = w
	go m.runWorker(conversationID, w)
	return w
}

func (m *Manager) handle(conversationID string, t task) error {
	ctx := t.ctx
	if err := ctx.Err(); err != nil {
		return err
	}
	history, err := m.history(ctx, conversationID, t.load)
	if err != nil {
		return err
	}
	added, jobErr := t.job(ctx, history)
	if len(added) > 0 {
		updated := m.state.append(conversationID, added...)
		m.cache.cacheHistory(conversationID, updated)
		m.cache.publishInvalidation(invalidateMessage{ConversationID: conversationID})
	}
	return jobErr
}

func (m *Manager) history(ctx context.Context, conversationID string, load Loader) ([]models.Message, error) {
	if h, ok := m.state.get(conversationID); ok {
		return h, nil
	}
	if h, ok := m.cache.loadHistory(conversationID); ok {
		m.state.set(conversationID, h)
		return h, nil
	}
	h, err := load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	m.state.set(conversationID, h)
	m.cache.cacheHistory(conversationID, h)
	slog.Debug("chat history loaded", "conversation_id", conversationID, "messages", len(h))
	return cloneMessages(h), nil
}
