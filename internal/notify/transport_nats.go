package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// ConnectNATS dials the server with unlimited reconnects.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	conn, err := nats.Connect(
		url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return conn, nil
}

// NATSTransport relays events over a core NATS subject. Delivery is at most
// once, which is enough for a payload-free refresh hint.
type NATSTransport struct {
	conn    *nats.Conn
	subject string
}

func NewNATSTransport(conn *nats.Conn, subject string) *NATSTransport {
	return &NATSTransport{conn: conn, subject: subject}
}

func (t *NATSTransport) Publish(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.conn.Publish(t.subject, payload)
}

func (t *NATSTransport) Subscribe(_ context.Context, deliver func()) (func() error, error) {
	sub, err := t.conn.Subscribe(t.subject, func(*nats.Msg) {
		deliver()
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", t.subject, err)
	}
	return sub.Unsubscribe, nil
}

func (t *NATSTransport) Close() error {
	t.conn.Close()
	return nil
}
