package broker

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type Nats struct {
	conn *nats.Conn
}

func NewNats(url string, log *zap.SugaredLogger) (*Nats, error) {
	conn, err := nats.Connect(url,
		nats.Name("roomsync"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnw("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Infow("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Nats{conn: conn}, nil
}

func (n *Nats) Publish(_ context.Context, subject string, data []byte) error {
	return n.conn.Publish(subject, data)
}

func (n *Nats) Subscribe(_ context.Context, subject string, h Handler) (func() error, error) {
	sub, err := n.conn.Subscribe(subject, func(m *nats.Msg) {
		h(m.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %q: %w", subject, err)
	}
	// the server must know the interest before publishes from other
	// connections can reach it
	if err := n.conn.Flush(); err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("subscribe %q: flush: %w", subject, err)
	}

	return sub.Unsubscribe, nil
}

func (n *Nats) Close() error {
	return n.conn.Drain()
}
