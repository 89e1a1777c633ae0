// Package gstatus serves sequencer status, metrics and transaction submission over HTTP.
package gstatus

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/gordian-engine/gsequencer/gsequencer"
	"github.com/gordian-engine/gsequencer/gtxqueue"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Backend is the subset of [*gsequencer.Service] the server uses.
type Backend interface {
	Snapshot(ctx context.Context) (gsequencer.Snapshot, error)
	Submit(ctx context.Context, payload []byte, feeHint uint64) error
}

type ServerConfig struct {
	Listener net.Listener

	Backend Backend

	// Optional. If nil, /metrics is not routed.
	Gatherer prometheus.Gatherer
}

type Server struct {
	done chan struct{}
}

// NewServer serves on cfg.Listener until ctx is canceled.
func NewServer(ctx context.Context, log *slog.Logger, cfg ServerConfig) *Server {
	srv := &http.Server{
		Handler: newRouter(log, cfg),

		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	s := &Server{
		done: make(chan struct{}),
	}
	go s.serve(log, cfg.Listener, srv)
	go s.waitForShutdown(ctx, srv)

	return s
}

func (s *Server) Wait() {
	<-s.done
}

func (s *Server) waitForShutdown(ctx context.Context, srv *http.Server) {
	select {
	case <-s.done:
		return
	case <-ctx.Done():
		_ = srv.Close()
	}
}

func (s *Server) serve(log *slog.Logger, ln net.Listener, srv *http.Server) {
	defer close(s.done)

	if err := srv.Serve(ln); err != nil {
		if errors.Is(err, net.ErrClosed) || errors.Is(err, http.ErrServerClosed) {
			log.Info("HTTP server shutting down")
		} else {
			log.Info("HTTP server shutting down due to error", "err", err)
		}
	}
}

func newRouter(log *slog.Logger, cfg ServerConfig) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/status", handleStatus(log, cfg.Backend)).Methods("GET")
	r.HandleFunc("/transactions", handleSubmit(cfg.Backend)).Methods("POST")

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	return r
}

// Status is the JSON body of GET /status.
type Status struct {
	Slot  uint64 `json:"slot"`
	Epoch uint64 `json:"epoch"`

	BlockCount       uint64 `json:"block_count"`
	TxnCount         uint64 `json:"txn_count"`
	IncludedTxnCount uint64 `json:"included_txn_count"`
	DroppedTxnCount  uint64 `json:"dropped_txn_count"`
	UnpublishedCount uint64 `json:"unpublished_block_count"`

	QueueDepth int    `json:"queue_depth"`
	FeeTotal   uint64 `json:"fee_total"`

	// Hex encoded.
	ParentDigest string `json:"parent_digest"`
	SignerPubKey string `json:"signer_pub_key"`
}

func statusFromSnapshot(s gsequencer.Snapshot) Status {
	return Status{
		Slot:  s.Slot,
		Epoch: s.Epoch,

		BlockCount:       s.BlockCount,
		TxnCount:         s.TxnCount,
		IncludedTxnCount: s.IncludedTxnCount,
		DroppedTxnCount:  s.DroppedTxnCount,
		UnpublishedCount: s.UnpublishedBlockCount,

		QueueDepth: s.QueueDepth,
		FeeTotal:   s.FeeTotal,

		ParentDigest: s.ParentDigest.String(),
		SignerPubKey: hex.EncodeToString(s.SignerPubKey),
	}
}

func handleStatus(log *slog.Logger, b Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap, err := b.Snapshot(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(statusFromSnapshot(snap)); err != nil {
			log.Warn("Failed to encode status", "err", err)
		}
	}
}

// handleSubmit accepts a raw transaction body,
// with an optional decimal fee query parameter.
func handleSubmit(b Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var fee uint64
		if f := req.URL.Query().Get("fee"); f != "" {
			var err error
			fee, err = strconv.ParseUint(f, 10, 64)
			if err != nil {
				http.Error(w, "invalid fee: "+err.Error(), http.StatusBadRequest)
				return
			}
		}

		// One extra byte distinguishes a too-large body from a maximal one.
		payload, err := io.ReadAll(io.LimitReader(req.Body, gtxqueue.MaxPayloadSize+1))
		if err != nil {
			http.Error(w, "failed to read body: "+err.Error(), http.StatusBadRequest)
			return
		}

		if err := b.Submit(req.Context(), payload, fee); err != nil {
			http.Error(w, err.Error(), submitStatusCode(err))
			return
		}

		w.WriteHeader(http.StatusAccepted)
	}
}

func submitStatusCode(err error) int {
	switch {
	case errors.Is(err, gsequencer.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, gsequencer.ErrEmptyPayload),
		errors.Is(err, gsequencer.ErrPayloadTooShort):
		return http.StatusBadRequest
	case errors.Is(err, gtxqueue.ErrQueueFull),
		errors.Is(err, gsequencer.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
