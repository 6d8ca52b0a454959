package core

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

func hash(parts ...[]byte) [32]byte {
	h := sha3.New256()
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}

func u64(n uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	return b[:]
}

// NewMessageID derives the id of a message submitted by a user. nonce is
// the messenger's Sent counter, which makes ids unique within a block.
func NewMessageID(blockNumber uint32, origin ProgramID, nonce uint64) MessageID {
	return hash([]byte("external"), u64(uint64(blockNumber)), origin[:], u64(nonce))
}

// NewOutgoingMessageID derives the id of the index-th message sent while
// handling origin.
func NewOutgoingMessageID(origin MessageID, index uint64) MessageID {
	return hash([]byte("outgoing"), origin[:], u64(index))
}

// NewReplyMessageID derives the id of the reply to origin. Each message
// has at most one reply.
func NewReplyMessageID(origin MessageID) MessageID {
	return hash([]byte("reply"), origin[:])
}

// CodeIDFrom hashes program code.
func CodeIDFrom(code []byte) CodeID {
	return hash(code)
}

// ProgramIDFrom derives the address of a program created from code with salt.
func ProgramIDFrom(code CodeID, salt []byte) ProgramID {
	return hash([]byte("program"), code[:], salt)
}
