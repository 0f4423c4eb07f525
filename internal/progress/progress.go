// Package progress forwards pipeline status to an optional external
// observer without ever blocking or failing the caller.
package progress

import (
	"sync"

	"go.uber.org/zap"
)

// Event names understood by observers.
const (
	EventLog            = "log"
	EventUpdateProgress = "updateProgress"
)

const defaultBuffer = 256

// Observer receives named events. EventLog carries a string payload and
// EventUpdateProgress the epoch index as an int.
type Observer interface {
	Emit(event string, payload any) error
}

type ObserverFunc func(event string, payload any) error

func (f ObserverFunc) Emit(event string, payload any) error { return f(event, payload) }

// LogObserver writes every event to a zap logger.
type LogObserver struct {
	Logger *zap.SugaredLogger
}

func (o LogObserver) Emit(event string, payload any) error {
	o.Logger.Infow("progress", "event", event, "payload", payload)
	return nil
}

type message struct {
	event   string
	payload any
}

// Notifier delivers events to its observer from a single goroutine, in
// order. When the queue is full new events are dropped. A nil *Notifier and
// a Notifier without observer are both valid and do nothing.
type Notifier struct {
	observer Observer
	logger   *zap.SugaredLogger

	mu     sync.RWMutex
	closed bool
	queue  chan message
	done   chan struct{}
}

func NewNotifier(observer Observer, logger *zap.SugaredLogger, buffer int) *Notifier {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	n := &Notifier{observer: observer, logger: logger}
	if observer == nil {
		return n
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	n.queue = make(chan message, buffer)
	n.done = make(chan struct{})
	go n.run()
	return n
}

func (n *Notifier) Log(text string) { n.emit(EventLog, text) }

func (n *Notifier) UpdateProgress(epoch int) { n.emit(EventUpdateProgress, epoch) }

func (n *Notifier) emit(event string, payload any) {
	if n == nil || n.observer == nil {
		return
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	select {
	case n.queue <- message{event: event, payload: payload}:
	default:
		n.logger.Debugw("progress event dropped", "event", event)
	}
}

func (n *Notifier) run() {
	defer close(n.done)
	for msg := range n.queue {
		n.deliver(msg)
	}
}

func (n *Notifier) deliver(msg message) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Warnw("progress observer panicked", "event", msg.event, "panic", r)
		}
	}()
	if err := n.observer.Emit(msg.event, msg.payload); err != nil {
		n.logger.Warnw("progress observer failed", "event", msg.event, "error", err)
	}
}

// Close delivers queued events and stops the goroutine. Later events are
// discarded.
func (n *Notifier) Close() {
	if n == nil || n.observer == nil {
		return
	}
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()
	<-n.done
}
