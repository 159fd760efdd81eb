package lpnotify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS publie chaque nouveau visiteur en JSON sur un sujet
type NATS struct {
	conn    *nats.Conn
	subject string
}

func NewNATS(url, subject string) (*NATS, error) {
	conn, err := nats.Connect(
		url,
		nats.Name("leadpulse"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connexion nats %s: %w", url, err)
	}
	return &NATS{conn: conn, subject: subject}, nil
}

func (n *NATS) Notify(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publication %s: %w", n.subject, err)
	}
	if _, ok := ctx.Deadline(); !ok {
		return n.conn.Flush()
	}
	return n.conn.FlushWithContext(ctx)
}

func (n *NATS) Close() error {
	return n.conn.Drain()
}
