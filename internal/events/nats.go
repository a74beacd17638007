package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSBus publishes events through a NATS connection so progress fanout
// works across processes.
type NATSBus struct {
	conn  *nats.Conn
	owned bool
}

var _ Bus = (*NATSBus)(nil)

// ConnectNATS dials url and wraps the connection in a Bus. The bus owns
// the connection and closes it on Close.
func ConnectNATS(url string) (*NATSBus, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSBus{conn: nc, owned: true}, nil
}

// NewNATSBus wraps an existing connection. The caller keeps ownership.
func NewNATSBus(nc *nats.Conn) *NATSBus {
	return &NATSBus{conn: nc}
}

func (b *NATSBus) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing %s: %w", subject, err)
	}
	return nil
}

func (b *NATSBus) Subscribe(subject string) (<-chan Message, func(), error) {
	raw := make(chan *nats.Msg, subscriberBuffer)
	sub, err := b.conn.ChanSubscribe(subject, raw)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}

	out := make(chan Message, subscriberBuffer)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case msg, ok := <-raw:
				if !ok {
					return
				}
				deliver(out, Message{Subject: msg.Subject, Data: msg.Data})
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			close(done)
		})
	}
	return out, unsub, nil
}

func (b *NATSBus) Close() error {
	if b.owned {
		b.conn.Close()
	}
	return nil
}
