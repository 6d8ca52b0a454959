package storage

import (
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
)

// Encode returns the canonical RLP encoding of v.
func Encode(v any) ([]byte, error) {
	b, err := rlp.EncodeToBytes(v)
	if err != nil {
		return nil, errors.Wrap(err, "storage: encode")
	}
	return b, nil
}

// Decode parses an RLP encoding into v, which must be a pointer.
func Decode(b []byte, v any) error {
	return errors.Wrap(rlp.DecodeBytes(b, v), "storage: decode")
}
