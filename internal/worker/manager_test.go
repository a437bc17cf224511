package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fridgeclinic/internal/models"
)

func TestHistoryStateOperations(t *testing.T) {
	state := newHistoryState()

	if _, ok := state.get("c1"); ok {
		t.Fatalf("empty state must miss")
	}
	state.set("c1", []models.Message{{ID: "m1"}})
	updated := state.append("c1", models.Message{ID: "m2"})
	if len(updated) != 2 || updated[1].ID != "m2" {
		t.Fatalf("history not updated: %#v", updated)
	}

	got, _ := state.get("c1")
	got[0].Content = "mutated"
	again, _ := state.get("c1")
	if again[0].Content != "" {
		t.Fatalf("get must return a copy")
	}

	state.purge("c1")
	if _, ok := state.get("c1"); ok {
		t.Fatalf("purge failed to clear entry")
	}

	state.set("c2", nil)
	state.reset()
	if len(state.history) != 0 {
		t.Fatalf("reset did not clear caches")
	}
}

type countingLoader struct {
	calls   int32
	history []models.Message
	err     error
}

func (l *countingLoader) load(ctx context.Context, conversationID string) ([]models.Message, error) {
	atomic.AddInt32(&l.calls, 1)
	return l.history, l.err
}

func TestRunCachesHistoryBetweenJobs(t *testing.T) {
	m := NewManager(nil)
	defer m.Stop()
	loader := &countingLoader{history: []models.Message{{ID: "m1", Role: models.RoleUser, Content: "hi"}}}
	ctx := context.Background()

	var seen []int
	job := func(n int) Job {
		return func(ctx context.Context, history []models.Message) ([]models.Message, error) {
			seen = append(seen, len(history))
			return []models.Message{{ID: fmt.Sprintf("u%d", n)}, {ID: fmt.Sprintf("a%d", n)}}, nil
		}
	}
	if err := m.Run(ctx, "c1", loader.load, job(1)); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := m.Run(ctx, "c1", loader.load, job(2)); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if atomic.LoadInt32(&loader.calls) != 1 {
		t.Fatalf("loader should run once, ran %d times", loader.calls)
	}
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 3 {
		t.Fatalf("unexpected history sizes %v", seen)
	}

	m.Purge("c1")
	if err := m.Run(ctx, "c1", loader.load, job(3)); err != nil {
		t.Fatalf("third run: %v", err)
	}
	if atomic.LoadInt32(&loader.calls) != 2 {
		t.Fatalf("purge should force a reload")
	}
}

func TestRunKeepsMessagesStoredBeforeFailure(t *testing.T) {
	m := NewManager(nil)
	defer m.Stop()
	loader := &countingLoader{}
	boom := errors.New("model down")

	err := m.Run(context.Background(), "c1", loader.load, func(ctx context.Context, history []models.Message) ([]models.Message, error) {
		return []models.Message{{ID: "u1", Role: models.RoleUser}}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected job error, got %v", err)
	}
	h, ok := m.state.get("c1")
	if !ok || len(h) != 1 || h[0].ID != "u1" {
		t.Fatalf("stored user message should stay cached, got %#v", h)
	}
}

func TestRunSerialisesPerConversation(t *testing.T) {
	m := NewManager(nil)
	defer m.Stop()
	loader := &countingLoader{}

	var (
		active  int32
		overlap int32
		mu      sync.Mutex
		order   []string
		wg      sync.WaitGroup
	)
	job := func(label string) Job {
		return func(ctx context.Context, history []models.Message) ([]models.Message, error) {
			if atomic.AddInt32(&active, 1) > 1 {
				atomic.StoreInt32(&overlap, 1)
			}
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			order = append(order, label)
			mu.Unlock()
			atomic.AddInt32(&active, -1)
			return nil, nil
		}
	}

	if err := m.Run(context.Background(), "c1", loader.load, job("first")); err != nil {
		t.Fatalf("first: %v", err)
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := m.Run(context.Background(), "c1", loader.load, job(fmt.Sprintf("job%d", i))); err != nil {
				t.Errorf("job%d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if atomic.LoadInt32(&overlap) != 0 {
		t.Fatalf("jobs for one conversation overlapped")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 5 || order[0] != "first" {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestRunConversationsInParallel(t *testing.T) {
	m := NewManager(nil)
	defer m.Stop()
	loader := &countingLoader{}

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	job := func(ctx context.Context, history []models.Message) ([]models.Message, error) {
		started <- struct{}{}
		<-release
		return nil, nil
	}
	errs := make(chan error, 2)
	go func() { errs <- m.Run(context.Background(), "a", loader.load, job) }()
	go func() { errs <- m.Run(context.Background(), "b", loader.load, job) }()

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatalf("conversations did not run concurrently")
		}
	}
	close(release)
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("run: %v", err)
		}
	}
}

func TestRunQueueFull(t *testing.T) {
	m := NewManager(nil)
	defer m.Stop()
	loader := &countingLoader{}
	block := make(chan struct{})
	defer close(block)

	started := make(chan struct{})
	go m.Run(context.Background(), "c1", loader.load, func(ctx context.Context, history []models.Message) ([]models.Message, error) {
		close(started)
		<-block
		return nil, nil
	})
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for i := 0; i < queueLen; i++ {
		go m.Run(ctx, "c1", loader.load, func(ctx context.Context, history []models.Message) ([]models.Message, error) {
			return nil, nil
		})
	}
	deadline := time.Now().Add(time.Second)
	for {
		m.mu.Lock()
		queued := len(m.workers["c1"].taskCh)
		m.mu.Unlock()
		if queued == queueLen {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("queue did not fill, %d queued", queued)
		}
		time.Sleep(5 * time.Millisecond)
	}

	err := m.Run(context.Background(), "c1", loader.load, func(ctx context.Context, history []models.Message) ([]models.Message, error) {
		return nil, nil
	})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestCancelledJobIsSkipped(t *testing.T) {
	m := NewManager(nil)
	defer m.Stop()
	loader := &countingLoader{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	err := m.Run(ctx, "c1", loader.load, func(ctx context.Context, history []models.Message) ([]models.Message, error) {
		ran = true
		return nil, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	// let the worker pick the task up before checking
	time.Sleep(20 * time.Millisecond)
	if ran {
		t.Fatalf("cancelled job must not run")
	}
}

func TestIdleWorkerExitsAndStop(t *testing.T) {
	m := NewManager(nil)
	m.SetIdleTimeout(20 * time.Millisecond)
	loader := &countingLoader{}
	noop := func(ctx context.Context, history []models.Message) ([]models.Message, error) { return nil, nil }

	if err := m.Run(context.Background(), "c1", loader.load, noop); err != nil {
		t.Fatalf("run: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for {
		m.mu.Lock()
		_, alive := m.workers["c1"]
		m.mu.Unlock()
		if !alive {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("idle worker did not exit")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// a later job respawns the worker
	if err := m.Run(context.Background(), "c1", loader.load, noop); err != nil {
		t.Fatalf("run after idle: %v", err)
	}

	m.Stop()
	if err := m.Run(context.Background(), "c1", loader.load, noop); !errors.Is(err, errStopped) {
		t.Fatalf("expected stopped error, got %v", err)
	}
}

func TestListenWithoutRedisReturnsOnCancel(t *testing.T) {
	m := NewManager(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Listen(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("listen did not return")
	}
}
