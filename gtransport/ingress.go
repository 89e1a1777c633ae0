package gtransport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

// FeeHintSize is the size of the little-endian fee hint
// that precedes the transaction bytes in an ingress datagram.
const FeeHintSize = 8

// Submitter accepts transactions; [*gsequencer.Service] satisfies it.
type Submitter interface {
	Submit(ctx context.Context, payload []byte, feeHint uint64) error
}

// IngressHandler is a [Handler] that submits each datagram as a transaction.
// A datagram is an 8-byte little-endian fee hint (zero for none)
// followed by the raw transaction.
type IngressHandler struct {
	s Submitter
}

func NewIngressHandler(s Submitter) *IngressHandler {
	return &IngressHandler{s: s}
}

var errShortIngress = errors.New("ingress datagram shorter than fee hint")

func (h *IngressHandler) HandleDatagram(ctx context.Context, data []byte, from net.Addr) error {
	fee, payload, err := DecodeIngress(data)
	if err != nil {
		return err
	}

	if err := h.s.Submit(ctx, payload, fee); err != nil {
		return fmt.Errorf("transaction from %s rejected: %w", from, err)
	}
	return nil
}

// EncodeIngress builds an ingress datagram.
func EncodeIngress(feeHint uint64, payload []byte) []byte {
	out := make([]byte, FeeHintSize, FeeHintSize+len(payload))
	binary.LittleEndian.PutUint64(out, feeHint)
	return append(out, payload...)
}

// DecodeIngress splits an ingress datagram.
// payload aliases data.
func DecodeIngress(data []byte) (feeHint uint64, payload []byte, err error) {
	if len(data) < FeeHintSize {
		return 0, nil, errShortIngress
	}
	return binary.LittleEndian.Uint64(data), data[FeeHintSize:], nil
}
