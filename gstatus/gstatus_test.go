package gstatus_test

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gordian-engine/gsequencer/gblock"
	"github.com/gordian-engine/gsequencer/gsequencer"
	"github.com/gordian-engine/gsequencer/gstatus"
	"github.com/gordian-engine/gsequencer/gtxqueue"
	"github.com/gordian-engine/gsequencer/internal/gtest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu sync.Mutex

	snap gsequencer.Snapshot

	submitErr error
	payloads  [][]byte
	fees      []uint64
}

func (b *fakeBackend) Snapshot(context.Context) (gsequencer.Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snap, nil
}

func (b *fakeBackend) Submit(_ context.Context, payload []byte, fee uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.submitErr != nil {
		return b.submitErr
	}
	b.payloads = append(b.payloads, payload)
	b.fees = append(b.fees, fee)
	return nil
}

func (b *fakeBackend) submitted() ([][]byte, []uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.payloads, b.fees
}

func startServer(t *testing.T, ln net.Listener, b gstatus.Backend, g prometheus.Gatherer) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	s := gstatus.NewServer(ctx, gtest.NewLogger(t), gstatus.ServerConfig{
		Listener: ln,
		Backend:  b,
		Gatherer: g,
	})
	t.Cleanup(func() {
		cancel()
		s.Wait()
	})
}

func listenTCP(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln
}

func TestServer_Status(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{snap: gsequencer.Snapshot{
		Slot:                  7,
		Epoch:                 1,
		BlockCount:            7,
		TxnCount:              10,
		IncludedTxnCount:      9,
		DroppedTxnCount:       2,
		QueueDepth:            1,
		FeeTotal:              500,
		ParentDigest:          gblock.Digest{0xab},
		SignerPubKey:          []byte{1, 2, 3},
		UnpublishedBlockCount: 1,
	}}

	ln := listenTCP(t)
	startServer(t, ln, b, nil)

	s, err := gstatus.NewClient(ln.Addr().String()).Status(context.Background())
	require.NoError(t, err)

	require.Equal(t, uint64(7), s.Slot)
	require.Equal(t, uint64(1), s.Epoch)
	require.Equal(t, uint64(9), s.IncludedTxnCount)
	require.Equal(t, uint64(1), s.UnpublishedCount)
	require.Equal(t, 1, s.QueueDepth)
	require.Equal(t, uint64(500), s.FeeTotal)
	require.Equal(t, "010203", s.SignerPubKey)
	require.True(t, strings.HasPrefix(s.ParentDigest, "ab00"))
	require.Len(t, s.ParentDigest, 2*gblock.DigestSize)
}

func TestServer_Submit(t *testing.T) {
	t.Parallel()

	b := new(fakeBackend)
	ln := listenTCP(t)
	startServer(t, ln, b, nil)

	c := gstatus.NewClient("http://" + ln.Addr().String())

	require.NoError(t, c.Submit(context.Background(), []byte("hello"), 0))
	require.NoError(t, c.Submit(context.Background(), []byte("world"), 42))

	payloads, fees := b.submitted()
	require.Equal(t, [][]byte{[]byte("hello"), []byte("world")}, payloads)
	require.Equal(t, []uint64{0, 42}, fees)
}

func TestServer_SubmitErrors(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		err  error
		code int
	}{
		{err: gsequencer.ErrEmptyPayload, code: http.StatusBadRequest},
		{err: fmt.Errorf("%w: 70 > 65", gsequencer.ErrPayloadTooShort), code: http.StatusBadRequest},
		{err: gsequencer.ErrPayloadTooLarge, code: http.StatusRequestEntityTooLarge},
		{err: gtxqueue.ErrQueueFull, code: http.StatusServiceUnavailable},
		{err: gsequencer.ErrClosed, code: http.StatusServiceUnavailable},
		{err: io.ErrUnexpectedEOF, code: http.StatusInternalServerError},
	} {
		t.Run(tc.err.Error(), func(t *testing.T) {
			t.Parallel()

			ln := listenTCP(t)
			startServer(t, ln, &fakeBackend{submitErr: tc.err}, nil)

			err := gstatus.NewClient(ln.Addr().String()).Submit(context.Background(), []byte("x"), 0)
			var se *gstatus.StatusError
			require.ErrorAs(t, err, &se)
			require.Equal(t, tc.code, se.Code)
		})
	}
}

func TestServer_SubmitBadFee(t *testing.T) {
	t.Parallel()

	ln := listenTCP(t)
	startServer(t, ln, new(fakeBackend), nil)

	resp, err := http.Post(
		"http://"+ln.Addr().String()+"/transactions?fee=abc",
		"application/octet-stream",
		strings.NewReader("x"),
	)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_things_total", Help: "Things"})
	reg.MustRegister(c)
	c.Add(3)

	ln := listenTCP(t)
	startServer(t, ln, new(fakeBackend), reg)

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "test_things_total 3")
}

func TestServer_UnixSocket(t *testing.T) {
	t.Parallel()

	// t.TempDir paths can exceed the socket path limit.
	dir, err := os.MkdirTemp("", "gstatus")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	sock := filepath.Join(dir, "s.sock")
	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)

	b := &fakeBackend{snap: gsequencer.Snapshot{Slot: 3}}
	startServer(t, ln, b, nil)

	c := gstatus.NewClient("unix://" + sock)

	s, err := c.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(3), s.Slot)

	require.NoError(t, c.Submit(context.Background(), []byte("over unix"), 1))
	payloads, _ := b.submitted()
	require.Equal(t, [][]byte{[]byte("over unix")}, payloads)
}
