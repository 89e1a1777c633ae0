// Package gtransport carries sequencer traffic over UDP:
// transaction ingress from the upstream verification layer,
// and block fragments to the downstream execution layer.
package gtransport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
)

// MaxDatagramSize is the largest UDP payload over IPv4.
const MaxDatagramSize = 65_507

// Handler processes one received datagram.
// The data slice is owned by the handler.
type Handler interface {
	HandleDatagram(ctx context.Context, data []byte, from net.Addr) error
}

// Listener reads datagrams from a UDP socket
// and passes each to a Handler, in arrival order.
type Listener struct {
	log *slog.Logger

	conn    *net.UDPConn
	handler Handler

	done chan struct{}
}

// ListenUDP binds addr and starts reading until ctx is canceled.
// Handler errors are logged and do not stop the listener.
func ListenUDP(ctx context.Context, log *slog.Logger, addr string, h Handler) (*Listener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", addr, err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to start UDP listener on %s: %w", addr, err)
	}

	l := &Listener{
		log: log,

		conn:    conn,
		handler: h,

		done: make(chan struct{}),
	}

	go l.closeOnDone(ctx)
	go l.listen(ctx)

	return l, nil
}

// Addr is the bound local address.
func (l *Listener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// Wait blocks until the read loop has stopped.
func (l *Listener) Wait() {
	<-l.done
}

func (l *Listener) closeOnDone(ctx context.Context) {
	<-ctx.Done()
	// Unblocks the pending read.
	_ = l.conn.Close()
}

func (l *Listener) listen(ctx context.Context) {
	defer close(l.done)

	buf := make([]byte, MaxDatagramSize)
	for {
		n, from, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			l.log.Debug("UDP read failed", "err", err)
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		if err := l.handler.HandleDatagram(ctx, data, from); err != nil {
			l.log.Debug("Failed to handle datagram", "from", from, "size", n, "err", err)
		}
	}
}

// Sender writes datagrams to a single remote address.
// It is safe for concurrent use.
type Sender struct {
	conn *net.UDPConn
}

// DialUDP returns a Sender for the remote addr.
func DialUDP(addr string) (*Sender, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", addr, err)
	}

	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return &Sender{conn: conn}, nil
}

// Send writes one datagram. ctx is only checked before writing;
// UDP writes do not block on the peer.
func (s *Sender) Send(ctx context.Context, datagram []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(datagram) > MaxDatagramSize {
		return fmt.Errorf("datagram too large: %d > %d", len(datagram), MaxDatagramSize)
	}
	if _, err := s.conn.Write(datagram); err != nil {
		return fmt.Errorf("failed to send datagram: %w", err)
	}
	return nil
}

func (s *Sender) Close() error {
	return s.conn.Close()
}
