package worker

import (
	"context"
	"time"
)

type task struct {
	ctx  context.Context
	load Loader
	job  Job
	done chan error
}

// conversationWorker runs the tasks of one conversation strictly in order.
type conversationWorker struct {
	taskCh chan task
	stopCh chan struct{}
	idle   time.Duration
}

func newConversationWorker(idle time.Duration) *conversationWorker {
	return &conversationWorker{
		taskCh: make(chan task, queueLen),
		stopCh: make(chan struct{}),
		idle:   idle,
	}
}

func (m *Manager) runWorker(conversationID string, w *conversationWorker) {
	idle := time.NewTimer(w.idle)
	defer idle.Stop()

	for {
		select {
		case <-w.stopCh:
			w.drain(errStopped)
			return
		case t := <-w.taskCh:
			t.done <- m.handle(conversationID, t)
			idle.Reset(w.idle)
		case <-idle.C:
			m.mu.Lock()
			if len(w.taskCh) > 0 {
				m.mu.Unlock()
				idle.Reset(w.idle)
				continue
			}
			if m.workers[conversationID] == w {
				delete(m.workers, conversationID)
			}
			m.mu.Unlock()
			return
		}
	}
}

func (w *conversationWorker) drain(err error) {
	for {
		select {
		case t := <-w.taskCh:
			t.done <- err
		default:
			return
		}
	}
}
