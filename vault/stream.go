// Package vault encrypts document content at rest.
//
// An encrypted object is a header followed by a sequence of AES-256-GCM
// sealed chunks:
//
//	magic "LXV1" | chunk size (uint32 BE) | nonce prefix (7 bytes)
//	chunk 0 | chunk 1 | ... | final chunk
//
// Each chunk nonce is the prefix, a big-endian chunk counter and a flag
// byte that is 1 only on the final chunk. The header is authenticated as
// associated data of every chunk, so reordering, truncation, extension and
// header tampering all fail authentication. The prefix is random per
// object, which keeps nonces unique under a single long-lived key.
package vault

import (
	"bufio"
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32

	// DefaultChunkSize is the plaintext size of every chunk but the last.
	DefaultChunkSize = 64 * 1024

	// HeaderSize is the length of the stream header.
	HeaderSize = len(magic) + 4 + prefixSize

	prefixSize = 7
	tagSize    = 16
	maxChunk   = 16 * 1024 * 1024

	magic = "LXV1"
)

var (
	ErrInvalidKey     = errors.New("vault: key must be 32 bytes")
	ErrFormat         = errors.New("vault: not an encrypted object")
	ErrAuthentication = errors.New("vault: authentication failed")
	ErrTruncated      = errors.New("vault: encrypted object is truncated")
)

// IsSealed reports whether b starts with the stream magic.
func IsSealed(b []byte) bool {
	return bytes.HasPrefix(b, []byte(magic))
}

// SealedSize returns the ciphertext length of a plaintext of the given size.
func SealedSize(plainSize int64, chunkSize int) int64 {
	chunks := (plainSize + int64(chunkSize) - 1) / int64(chunkSize)
	if chunks == 0 {
		chunks = 1
	}
	return int64(HeaderSize) + plainSize + chunks*tagSize
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	return cipher.NewGCM(block)
}

type nonceSource struct {
	prefix  [prefixSize]byte
	counter uint32
	buf     [12]byte
}

func (n *nonceSource) next(last bool) ([]byte, error) {
	if n.counter == math.MaxUint32 {
		return nil, errors.New("vault: chunk counter exhausted")
	}
	copy(n.buf[:prefixSize], n.prefix[:])
	binary.BigEndian.PutUint32(n.buf[prefixSize:prefixSize+4], n.counter)
	n.buf[11] = 0
	if last {
		n.buf[11] = 1
	}
	n.counter++
	return n.buf[:], nil
}

// ==================== Writer ====================

type writer struct {
	w         io.Writer
	aead      cipher.AEAD
	header    []byte
	nonce     nonceSource
	chunkSize int
	buf       []byte
	out       []byte
	closed    bool
	err       error
}

// NewWriter returns a WriteCloser that encrypts everything written to it
// into w. Close must be called to seal the final chunk; it does not close w.
func NewWriter(w io.Writer, key []byte) (io.WriteCloser, error) {
	return NewWriterSize(w, key, DefaultChunkSize)
}

// NewWriterSize is NewWriter with an explicit chunk size.
func NewWriterSize(w io.Writer, key []byte, chunkSize int) (io.WriteCloser, error) {
	if chunkSize <= 0 || chunkSize > maxChunk {
		return nil, fmt.Errorf("vault: invalid chunk size %d", chunkSize)
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	sw := &writer{
		w:         w,
		aead:      aead,
		chunkSize: chunkSize,
		buf:       make([]byte, 0, chunkSize),
		out:       make([]byte, 0, chunkSize+tagSize),
	}
	if _, err := io.ReadFull(rand.Reader, sw.nonce.prefix[:]); err != nil {
		return nil, fmt.Errorf("vault: nonce: %w", err)
	}

	sw.header = make([]byte, 0, HeaderSize)
	sw.header = append(sw.header, magic...)
	sw.header = binary.BigEndian.AppendUint32(sw.header, uint32(chunkSize))
	sw.header = append(sw.header, sw.nonce.prefix[:]...)

	if _, err := w.Write(sw.header); err != nil {
		return nil, err
	}
	return sw, nil
}

func (w *writer) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	if w.closed {
		return 0, errors.New("vault: write after close")
	}

	n := 0
	for len(p) > 0 {
		if len(w.buf) == w.chunkSize {
			if err := w.seal(false); err != nil {
				w.err = err
				return n, err
			}
		}
		k := copy(w.buf[len(w.buf):w.chunkSize], p)
		w.buf = w.buf[:len(w.buf)+k]
		p = p[k:]
		n += k
	}
	return n, nil
}

func (w *writer) Close() error {
	if w.closed {
		return w.err
	}
	w.closed = true
	if w.err != nil {
		return w.err
	}
	w.err = w.seal(true)
	return w.err
}

func (w *writer) seal(last bool) error {
	nonce, err := w.nonce.next(last)
	if err != nil {
		return err
	}
	w.out = w.aead.Seal(w.out[:0], nonce, w.buf, w.header)
	w.buf = w.buf[:0]
	_, err = w.w.Write(w.out)
	return err
}

// ==================== Reader ====================

type reader struct {
	r      *bufio.Reader
	aead   cipher.AEAD
	header []byte
	nonce  nonceSource
	chunk  []byte
	plain  []byte
	pos    int
	done   bool
	err    error
}

// NewReader returns a Reader that decrypts and authenticates r chunk by
// chunk. Plaintext of a chunk is released only after its tag verifies.
func NewReader(r io.Reader, key []byte) (io.Reader, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReader(r)
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(br, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrFormat
		}
		return nil, err
	}
	if !IsSealed(header) {
		return nil, ErrFormat
	}

	chunkSize := int(binary.BigEndian.Uint32(header[len(magic):]))
	if chunkSize <= 0 || chunkSize > maxChunk {
		return nil, ErrFormat
	}

	sr := &reader{
		r:      br,
		aead:   aead,
		header: header,
		chunk:  make([]byte, chunkSize+tagSize),
	}
	copy(sr.nonce.prefix[:], header[len(magic)+4:])
	return sr, nil
}

func (r *reader) Read(p []byte) (int, error) {
	for r.pos >= len(r.plain) {
		if r.err != nil {
			return 0, r.err
		}
		if r.done {
			return 0, io.EOF
		}
		if err := r.next(); err != nil {
			r.err = err
			return 0, err
		}
	}
	n := copy(p, r.plain[r.pos:])
	r.pos += n
	return n, nil
}

func (r *reader) next() error {
	n, err := io.ReadFull(r.r, r.chunk)
	last := false
	switch {
	case err == nil:
		if _, perr := r.r.Peek(1); perr != nil {
			if !errors.Is(perr, io.EOF) {
				return perr
			}
			last = true
		}
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		last = true
	default:
		return err
	}
	if n < tagSize {
		return ErrTruncated
	}

	nonce, nerr := r.nonce.next(last)
	if nerr != nil {
		return nerr
	}
	plain, oerr := r.aead.Open(r.plain[:0], nonce, r.chunk[:n], r.header)
	if oerr != nil {
		return ErrAuthentication
	}
	r.plain = plain
	r.pos = 0
	r.done = last
	return nil
}
