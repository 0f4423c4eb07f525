package progress

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

type recorder struct {
	mu     sync.Mutex
	events []string
	epochs []int
}

func (r *recorder) Emit(event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	if epoch, ok := payload.(int); ok {
		r.epochs = append(r.epochs, epoch)
	}
	return nil
}

func TestNotifierDeliversInOrder(t *testing.T) {
	rec := &recorder{}
	n := NewNotifier(rec, zaptest.NewLogger(t).Sugar(), 16)
	n.Log("loading images")
	n.UpdateProgress(0)
	n.UpdateProgress(1)
	n.Log("learned")
	n.Close()

	assert.Equal(t, []string{EventLog, EventUpdateProgress, EventUpdateProgress, EventLog}, rec.events)
	assert.Equal(t, []int{0, 1}, rec.epochs)
}

func TestNotifierWithoutObserverIsNoop(t *testing.T) {
	var nilNotifier *Notifier
	nilNotifier.Log("x")
	nilNotifier.UpdateProgress(1)
	nilNotifier.Close()

	n := NewNotifier(nil, nil, 0)
	n.Log("x")
	n.Close()
	n.Close()
}

func TestNotifierSwallowsObserverFailures(t *testing.T) {
	calls := 0
	n := NewNotifier(ObserverFunc(func(event string, payload any) error {
		calls++
		if calls == 1 {
			return errors.New("socket closed")
		}
		if calls == 2 {
			panic("boom")
		}
		return nil
	}), zaptest.NewLogger(t).Sugar(), 8)
	n.Log("a")
	n.Log("b")
	n.Log("c")
	n.Close()
	assert.Equal(t, 3, calls)
}

func TestNotifierNeverBlocksOnSlowObserver(t *testing.T) {
	release := make(chan struct{})
	n := NewNotifier(ObserverFunc(func(string, any) error {
		<-release
		return nil
	}), zaptest.NewLogger(t).Sugar(), 2)

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			n.UpdateProgress(i)
		}
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("emit blocked on a slow observer")
	}
	close(release)
	n.Close()

	// no panic after close
	n.Log("late")
}
