// Package mmap provides the memory mapping layer used by the mvkv data file.
package mmap

// Map represents a memory-mapped file region.
type Map struct {
	data     []byte // Mapped memory region
	fd       int    // File descriptor
	size     int64  // Current mapped size
	writable bool   // True if mapped with write permission
}

// Data returns the mapped byte slice.
func (m *Map) Data() []byte {
	return m.data
}

// Size returns the current mapped size.
func (m *Map) Size() int64 {
	return m.size
}

// Writable returns true if the mapping is writable.
func (m *Map) Writable() bool {
	return m.writable
}

// Fd returns the file descriptor.
func (m *Map) Fd() int {
	return m.fd
}

// Error represents an mmap error.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return "mmap: " + e.Op + ": " + e.Err.Error()
	}
	return "mmap: " + e.Op
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Common errors
var (
	ErrInvalidSize  = &Error{Op: "invalid size"}
	ErrInvalidRange = &Error{Op: "invalid range"}
	ErrNotMapped    = &Error{Op: "not mapped"}
	ErrEmptyFile    = &Error{Op: "empty file"}
)
