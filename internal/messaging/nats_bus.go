package messaging

import (
	"io"
	"time"

	"github.com/nats-io/nats.go"
)

type NATSBus struct{ nc *nats.Conn }

// NewNATSBus connects with reconnects enabled; name identifies the client
// to the server.
func NewNATSBus(url, name string, opts ...nats.Option) (*NATSBus, error) {
	base := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
	}
	nc, err := nats.Connect(url, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	return &NATSBus{nc: nc}, nil
}

func (b *NATSBus) Publish(subject string, data []byte) error { return b.nc.Publish(subject, data) }

func (b *NATSBus) Subscribe(subject string, handler func([]byte)) (io.Closer, error) {
	sub, err := b.nc.Subscribe(subject, func(m *nats.Msg) { handler(m.Data) })
	if err != nil {
		return nil, err
	}
	return closerFunc(func() error { return sub.Unsubscribe() }), nil
}

// Close flushes pending publishes and closes the connection.
func (b *NATSBus) Close() error {
	err := b.nc.Drain()
	if err != nil {
		b.nc.Close()
	}
	return err
}
