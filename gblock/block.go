package gblock

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gordian-engine/gsequencer/gcrypto"
	"github.com/gordian-engine/gsequencer/gtxqueue"
)

// Block is a signed header and the transactions it commits to,
// in the order they were popped from the queue.
type Block struct {
	Header       Header
	Transactions []gtxqueue.Transaction
}

// Payloads returns the raw transaction payloads in block order.
func (b Block) Payloads() [][]byte {
	out := make([][]byte, len(b.Transactions))
	for i, txn := range b.Transactions {
		out[i] = txn.Payload
	}
	return out
}

// Signatures returns the transaction signatures in block order.
func (b Block) Signatures() [][gtxqueue.SignatureSize]byte {
	out := make([][gtxqueue.SignatureSize]byte, len(b.Transactions))
	for i, txn := range b.Transactions {
		out[i] = txn.Signature
	}
	return out
}

const (
	feeSize        = 8
	payloadLenSize = 2
	txnPrefixSize  = feeSize + payloadLenSize
)

// MarshalBinary encodes b for the downstream link:
// the header, a u32 transaction count,
// then per transaction a u64 fee, a u16 payload length and the payload.
func (b Block) MarshalBinary() ([]byte, error) {
	size := HeaderSize + txnCountSize
	for i, txn := range b.Transactions {
		if len(txn.Payload) > gtxqueue.MaxPayloadSize {
			return nil, fmt.Errorf(
				"transaction %d payload too large: %d > %d",
				i, len(txn.Payload), gtxqueue.MaxPayloadSize,
			)
		}
		size += txnPrefixSize + len(txn.Payload)
	}

	out := make([]byte, 0, size)
	out, _ = b.Header.AppendBinary(out)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(b.Transactions)))
	for _, txn := range b.Transactions {
		out = binary.LittleEndian.AppendUint64(out, txn.Fee)
		out = binary.LittleEndian.AppendUint16(out, uint16(len(txn.Payload)))
		out = append(out, txn.Payload...)
	}
	return out, nil
}

// UnmarshalBlock decodes the output of [Block.MarshalBinary].
// Transaction signatures are re-extracted from the payloads;
// arrival times are not carried on the wire.
func UnmarshalBlock(data []byte) (Block, error) {
	if len(data) < HeaderSize+txnCountSize {
		return Block{}, fmt.Errorf("block too short: %d bytes", len(data))
	}

	var b Block
	if err := b.Header.UnmarshalBinary(data[:HeaderSize]); err != nil {
		return Block{}, err
	}
	data = data[HeaderSize:]

	n := binary.LittleEndian.Uint32(data)
	data = data[txnCountSize:]

	// Each transaction needs at least its prefix,
	// so n cannot exceed what the remaining bytes could hold.
	if uint64(n) > uint64(len(data)/txnPrefixSize) {
		return Block{}, fmt.Errorf("transaction count %d exceeds encoded data", n)
	}

	if n > 0 {
		b.Transactions = make([]gtxqueue.Transaction, n)
	}
	for i := range b.Transactions {
		if len(data) < txnPrefixSize {
			return Block{}, fmt.Errorf("transaction %d: truncated prefix", i)
		}
		fee := binary.LittleEndian.Uint64(data)
		sz := int(binary.LittleEndian.Uint16(data[feeSize:]))
		data = data[txnPrefixSize:]

		if sz > len(data) {
			return Block{}, fmt.Errorf(
				"transaction %d: payload length %d exceeds remaining %d bytes", i, sz, len(data),
			)
		}

		sig, ok := gtxqueue.ExtractSignature(data[:sz])
		if !ok {
			return Block{}, fmt.Errorf("transaction %d: payload too short for signature", i)
		}

		b.Transactions[i] = gtxqueue.Transaction{
			Payload:   append([]byte(nil), data[:sz]...),
			Fee:       fee,
			Signature: sig,
		}
		data = data[sz:]
	}

	if len(data) != 0 {
		return Block{}, fmt.Errorf("%d trailing bytes after block", len(data))
	}

	return b, nil
}

var (
	ErrBadSignature    = errors.New("invalid header signature")
	ErrCountMismatch   = errors.New("header transaction count mismatch")
	ErrContentMismatch = errors.New("content digest mismatch")
)

// VerifyBlock checks that b's header is signed by pub
// and that the header commits to exactly b's transactions.
func VerifyBlock(b Block, pub gcrypto.PubKey) error {
	if !b.Header.Verify(pub) {
		return ErrBadSignature
	}

	if int(b.Header.TxnCount) != len(b.Transactions) {
		return fmt.Errorf(
			"%w: header has %d, block has %d",
			ErrCountMismatch, b.Header.TxnCount, len(b.Transactions),
		)
	}

	if got := ContentDigest(b.Signatures()); got != b.Header.Content {
		return fmt.Errorf(
			"%w: header has %s, computed %s",
			ErrContentMismatch, b.Header.Content, got,
		)
	}

	return nil
}
