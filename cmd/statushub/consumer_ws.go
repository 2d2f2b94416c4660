package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"statushub/internal/constants"
	"statushub/internal/metrics"
	"statushub/internal/privacy"
	"statushub/internal/service"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// socketConsumer is the notifier consumer behind one websocket session.
type socketConsumer struct {
	*service.ChannelConsumer
	id        string
	evicted   chan struct{}
	evictOnce sync.Once
}

func newSocketConsumer() *socketConsumer {
	return &socketConsumer{
		ChannelConsumer: service.NewChannelConsumer(),
		id:              uuid.NewString(),
		evicted:         make(chan struct{}),
	}
}

func (c *socketConsumer) evict() {
	c.evictOnce.Do(func() { close(c.evicted) })
}

// handleConsumer attaches the connecting socket as the single consumer. It
// receives a refresh right away and then one per store change. A newer
// socket replaces it.
func (s *Server) handleConsumer() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			s.logger.WithError(err).Warn("Failed to accept consumer socket")
			return
		}

		consumer := newSocketConsumer()
		sessionLog := s.logger.WithFields(logrus.Fields{
			service.LogFieldSessionID: privacy.MaskNotificationKey(consumer.id),
		})

		// Peer messages are not expected; CloseRead cancels ctx when the peer goes away.
		ctx := conn.CloseRead(r.Context())

		if previous := s.notifier.Attach(consumer); previous != nil {
			if old, ok := previous.(*socketConsumer); ok {
				old.evict()
			}
		}
		defer s.notifier.Detach(consumer)
		metrics.IncrementCounter(metrics.ConsumerSessionTotal, nil)
		sessionLog.Info("Consumer session opened")

		consumer.Notify()
		for {
			select {
			case <-ctx.Done():
				sessionLog.Info("Consumer session closed by peer")
				_ = conn.CloseNow()
				return
			case <-s.closing:
				_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			case <-consumer.evicted:
				sessionLog.Info("Consumer session replaced")
				_ = conn.Close(websocket.StatusPolicyViolation, "replaced by a newer consumer")
				return
			case <-consumer.C():
				if err := writeRefresh(ctx, conn); err != nil {
					sessionLog.WithError(err).Warn("Failed to deliver refresh")
					_ = conn.CloseNow()
					return
				}
			}
		}
	}
}

func writeRefresh(ctx context.Context, conn *websocket.Conn) error {
	wctx, cancel := context.WithTimeout(ctx, time.Duration(constants.DefaultConsumerWriteTimeoutSec)*time.Second)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, []byte(constants.RefreshSignal))
}
