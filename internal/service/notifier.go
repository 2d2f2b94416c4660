package service

import (
	"sync"

	"statushub/internal/metrics"

	"github.com/sirupsen/logrus"
)

// Consumer receives refresh wake-ups. Notify must not block: it runs while
// the notifier holds its slot lock.
type Consumer interface {
	Notify()
}

// Notifier delivers refresh signals to at most one attached consumer.
// Signals raised while nothing is attached are dropped; the store stays
// the source of truth and the consumer re-reads it on attach.
type Notifier struct {
	mu       sync.Mutex
	consumer Consumer
	onAttach func()
	logger   *logrus.Logger
}

func NewNotifier(logger *logrus.Logger) *Notifier {
	return &Notifier{logger: logger}
}

// OnAttach registers a hook run, outside the slot lock, each time a
// consumer attaches.
func (n *Notifier) OnAttach(hook func()) {
	n.mu.Lock()
	n.onAttach = hook
	n.mu.Unlock()
}

// Attach registers c as the only consumer and returns the consumer it
// replaced, if any.
func (n *Notifier) Attach(c Consumer) Consumer {
	n.mu.Lock()
	previous := n.consumer
	n.consumer = c
	hook := n.onAttach
	n.mu.Unlock()

	metrics.SetGauge(metrics.ConsumerAttached, 1, nil)
	n.logger.WithField("replaced", previous != nil).Info("Consumer attached")

	if hook != nil {
		hook()
	}
	return previous
}

// Detach clears the slot if c is still the registered consumer. A consumer
// that was already replaced by a later Attach leaves the slot untouched.
func (n *Notifier) Detach(c Consumer) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.consumer == nil || n.consumer != c {
		return false
	}
	n.consumer = nil
	metrics.SetGauge(metrics.ConsumerAttached, 0, nil)
	n.logger.Info("Consumer detached")
	return true
}

// Attached reports whether a consumer is registered.
func (n *Notifier) Attached() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.consumer != nil
}

// Signal wakes the attached consumer and reports whether one was there.
// Delivery happens under the slot lock so a detached consumer is never
// notified after Detach returns.
func (n *Notifier) Signal() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	delivered := n.consumer != nil
	if delivered {
		n.consumer.Notify()
	}
	metrics.IncrementCounter(metrics.SignalsFired, map[string]string{"delivered": boolLabel(delivered)})
	return delivered
}

// ChannelConsumer is a Consumer backed by a one-slot channel. Signals that
// arrive before the previous one was read are coalesced.
type ChannelConsumer struct {
	ch chan struct{}
}

func NewChannelConsumer() *ChannelConsumer {
	return &ChannelConsumer{ch: make(chan struct{}, 1)}
}

func (c *ChannelConsumer) Notify() {
	select {
	case c.ch <- struct{}{}:
	default:
	}
}

// C returns the channel a refresh is delivered on.
func (c *ChannelConsumer) C() <-chan struct{} {
	return c.ch
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
