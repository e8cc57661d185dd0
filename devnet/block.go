package devnet

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/golang/snappy"
	"github.com/vmihailenco/msgpack/v4"

	"custodyledger_go/address"
)

var blockTag = []byte("BH")

var errUncompressedValue = errors.New("could not uncompress data")

// Block is one round of confirmed transactions.
type Block struct {
	Round     uint64   `msgpack:"rnd"`
	Timestamp int64    `msgpack:"ts"`
	Prev      []byte   `msgpack:"prev,omitempty"`
	TxIDs     []string `msgpack:"txids,omitempty"`
	// Payset holds the signed records exactly as they were posted.
	Payset [][]byte `msgpack:"txns,omitempty"`
}

// Hash commits to the round, time, parent and every record in order.
func (b *Block) Hash() address.Digest {
	var hdr [16]byte
	binary.BigEndian.PutUint64(hdr[:8], b.Round)
	binary.BigEndian.PutUint64(hdr[8:], uint64(b.Timestamp))
	parts := [][]byte{blockTag, hdr[:], b.Prev}
	parts = append(parts, b.Payset...)
	return address.Hash(parts...)
}

// encodeBlock serializes with msgpack and compresses with snappy.
func encodeBlock(b *Block) ([]byte, error) {
	val, err := msgpack.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("could not encode block %d: %w", b.Round, err)
	}
	return snappy.Encode(nil, val), nil
}

func decodeBlock(val []byte) (*Block, error) {
	raw, err := snappy.Decode(nil, val)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err, errUncompressedValue)
	}
	var b Block
	if err := msgpack.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("could not decode block: %w", err)
	}
	return &b, nil
}
