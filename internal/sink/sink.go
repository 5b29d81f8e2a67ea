// Package sink delivers CoT documents to the downstream COP/TAK endpoint.
// The endpoint accepts one document per connection and dedupes on event uid,
// so redelivering the same document is safe.
package sink

import (
	"context"
	"fmt"
	"net"

	"github.com/your-org/takpipe/internal/config"
)

type TAKSink struct {
	address  string
	protocol string
	dialer   net.Dialer
}

func NewTAKSink(cfg config.SinkConfig) *TAKSink {
	return &TAKSink{
		address:  cfg.Address,
		protocol: cfg.Protocol,
		dialer:   net.Dialer{Timeout: cfg.DispatchTimeout},
	}
}

// Send writes one CoT document to the sink. The caller bounds the whole
// attempt with ctx; dialing additionally honors the configured timeout.
func (s *TAKSink) Send(ctx context.Context, uid string, doc []byte) error {
	conn, err := s.dialer.DialContext(ctx, s.protocol, s.address)
	if err != nil {
		return fmt.Errorf("dial sink: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}

	if _, err := conn.Write(append(doc, '\n')); err != nil {
		return fmt.Errorf("send event %s: %w", uid, err)
	}
	return nil
}

// Ping checks sink reachability. UDP sinks always report reachable since
// the dial never leaves the host.
func (s *TAKSink) Ping(ctx context.Context) error {
	conn, err := s.dialer.DialContext(ctx, s.protocol, s.address)
	if err != nil {
		return fmt.Errorf("sink unreachable: %w", err)
	}
	return conn.Close()
}
