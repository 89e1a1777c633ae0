package gtransport_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/gordian-engine/gsequencer/gtransport"
	"github.com/gordian-engine/gsequencer/internal/gtest"
	"github.com/stretchr/testify/require"
)

type chanHandler struct {
	ch chan []byte
}

func (h chanHandler) HandleDatagram(_ context.Context, data []byte, _ net.Addr) error {
	h.ch <- data
	return nil
}

func TestListener_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := chanHandler{ch: make(chan []byte, 4)}
	l, err := gtransport.ListenUDP(ctx, gtest.NewLogger(t), "127.0.0.1:0", h)
	require.NoError(t, err)
	defer l.Wait()
	defer cancel()

	s, err := gtransport.DialUDP(l.Addr().String())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Send(ctx, []byte("first")))
	require.NoError(t, s.Send(ctx, []byte("second")))

	require.Equal(t, []byte("first"), gtest.ReceiveSoon(t, h.ch))
	require.Equal(t, []byte("second"), gtest.ReceiveSoon(t, h.ch))
}

func TestListener_StopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	h := chanHandler{ch: make(chan []byte, 1)}
	l, err := gtransport.ListenUDP(ctx, gtest.NewLogger(t), "127.0.0.1:0", h)
	require.NoError(t, err)

	cancel()
	gtest.ReceiveSoon(t, doneChan(l.Wait))
}

func TestSender_RejectsOversize(t *testing.T) {
	t.Parallel()

	s, err := gtransport.DialUDP("127.0.0.1:9")
	require.NoError(t, err)
	defer s.Close()

	err = s.Send(context.Background(), make([]byte, gtransport.MaxDatagramSize+1))
	require.ErrorContains(t, err, "too large")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, s.Send(ctx, []byte("x")), context.Canceled)
}

type fakeSubmitter struct {
	mu   sync.Mutex
	got  [][]byte
	fees []uint64
	err  error
}

func (s *fakeSubmitter) Submit(_ context.Context, payload []byte, fee uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, payload)
	s.fees = append(s.fees, fee)
	return s.err
}

func TestIngress_Codec(t *testing.T) {
	t.Parallel()

	d := gtransport.EncodeIngress(1234, []byte("txn"))
	require.Len(t, d, gtransport.FeeHintSize+3)

	fee, payload, err := gtransport.DecodeIngress(d)
	require.NoError(t, err)
	require.Equal(t, uint64(1234), fee)
	require.Equal(t, []byte("txn"), payload)

	_, _, err = gtransport.DecodeIngress(d[:7])
	require.Error(t, err)
}

func TestIngressHandler(t *testing.T) {
	t.Parallel()

	s := new(fakeSubmitter)
	h := gtransport.NewIngressHandler(s)
	from := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}

	require.NoError(t, h.HandleDatagram(context.Background(), gtransport.EncodeIngress(0, []byte("a")), from))
	require.Equal(t, [][]byte{[]byte("a")}, s.got)
	require.Equal(t, []uint64{0}, s.fees)

	s.err = errors.New("queue full")
	err := h.HandleDatagram(context.Background(), gtransport.EncodeIngress(9, []byte("b")), from)
	require.ErrorIs(t, err, s.err)

	require.Error(t, h.HandleDatagram(context.Background(), []byte{1, 2}, from))
	require.Len(t, s.got, 2)
}

func doneChan(wait func()) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		wait()
		close(ch)
	}()
	return ch
}
