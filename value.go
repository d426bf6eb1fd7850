package mvkv

import (
	"encoding/binary"
	"unicode/utf8"
)

// Value is a view over bytes owned by the transaction that produced it.
// The view stays valid until that transaction commits or aborts; accessing
// it afterwards returns ErrValueExpired. Copy with BytesCopy to outlive the
// transaction.
type Value struct {
	txn  *Txn
	data []byte
}

func (v Value) live() bool {
	return v.txn != nil && v.txn.signature == txnSignature
}

// Bytes returns the borrowed byte view.
func (v Value) Bytes() ([]byte, error) {
	if !v.live() {
		return nil, ErrValueExpiredError
	}
	return v.data, nil
}

// BytesCopy returns a copy of the value that is safe to keep after the
// transaction ends.
func (v Value) BytesCopy() ([]byte, error) {
	if !v.live() {
		return nil, ErrValueExpiredError
	}
	out := make([]byte, len(v.data))
	copy(out, v.data)
	return out, nil
}

// Str decodes the value as UTF-8.
func (v Value) Str() (string, error) {
	if !v.live() {
		return "", ErrValueExpiredError
	}
	if !utf8.Valid(v.data) {
		return "", ErrEncodingError
	}
	return string(v.data), nil
}

// Uint32 decodes a 4-byte big-endian value.
func (v Value) Uint32() (uint32, error) {
	if !v.live() {
		return 0, ErrValueExpiredError
	}
	if len(v.data) != 4 {
		return 0, ErrEncodingError
	}
	return binary.BigEndian.Uint32(v.data), nil
}

// Uint64 decodes an 8-byte big-endian value.
func (v Value) Uint64() (uint64, error) {
	if !v.live() {
		return 0, ErrValueExpiredError
	}
	if len(v.data) != 8 {
		return 0, ErrEncodingError
	}
	return binary.BigEndian.Uint64(v.data), nil
}

// Len returns the length of the value in bytes.
func (v Value) Len() (int, error) {
	if !v.live() {
		return 0, ErrValueExpiredError
	}
	return len(v.data), nil
}

// U32BE encodes n as 4 big-endian bytes, matching Value.Uint32.
func U32BE(n uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], n)
	return b[:]
}

// U64BE encodes n as 8 big-endian bytes, matching Value.Uint64.
func U64BE(n uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	return b[:]
}
