package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Bus is a NATS connection used both to publish and to subscribe.
type Bus struct {
	conn   *nats.Conn
	logger *zap.Logger
}

var (
	_ Publisher  = (*Bus)(nil)
	_ Subscriber = (*Bus)(nil)
)

// Connect dials NATS at url and keeps reconnecting forever. Extra options
// are applied after the defaults.
func Connect(url string, logger *zap.Logger, opts ...nats.Option) (*Bus, error) {
	logger = logger.Named("nats")
	defaults := []nats.Option{
		nats.Name("hookd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &Bus{conn: nc, logger: logger}, nil
}

// Publish JSON-encodes payload onto subject.
func (b *Bus) Publish(ctx context.Context, subject string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", subject, err)
	}
	return b.conn.Publish(subject, data)
}

// Subscribe registers on subject and returns once the server has the
// interest. Messages that arrive while the channel is full are dropped.
func (b *Bus) Subscribe(ctx context.Context, subject string) (<-chan []byte, error) {
	ch := make(chan []byte, 64)

	var (
		mu     sync.Mutex
		closed bool
	)
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- msg.Data:
		default:
			b.logger.Debug("dropping notification", zap.String("subject", msg.Subject))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	if err := b.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flushing subscription: %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	}()
	return ch, nil
}

// Flush waits until the server has processed everything published so far.
func (b *Bus) Flush() error {
	return b.conn.Flush()
}

func (b *Bus) Close() error {
	b.conn.Close()
	return nil
}
