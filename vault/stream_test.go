package vault

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func seal(t *testing.T, key, plain []byte, chunk int) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewWriterSize(&buf, key, chunk)
	if err != nil {
		t.Fatalf("NewWriterSize: %v", err)
	}
	if _, err := w.Write(plain); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return buf.Bytes()
}

func open(key, sealed []byte) ([]byte, error) {
	r, err := NewReader(bytes.NewReader(sealed), key)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

func TestRoundTrip(t *testing.T) {
	key := testKey(t)

	sizes := []struct {
		name  string
		size  int
		chunk int
	}{
		{"empty", 0, 16},
		{"one byte", 1, 16},
		{"exact chunk", 16, 16},
		{"chunk plus one", 17, 16},
		{"many chunks", 1000, 16},
		{"default chunk", 200 * 1024, DefaultChunkSize},
	}

	for _, tt := range sizes {
		t.Run(tt.name, func(t *testing.T) {
			plain := make([]byte, tt.size)
			if _, err := rand.Read(plain); err != nil {
				t.Fatal(err)
			}

			sealed := seal(t, key, plain, tt.chunk)
			if got, want := int64(len(sealed)), SealedSize(int64(tt.size), tt.chunk); got != want {
				t.Errorf("sealed size = %d, SealedSize = %d", got, want)
			}
			if !IsSealed(sealed) {
				t.Error("sealed output lacks the stream magic")
			}

			got, err := open(key, sealed)
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			if !bytes.Equal(got, plain) {
				t.Error("plaintext mismatch after round trip")
			}
		})
	}
}

func TestFreshNoncePerObject(t *testing.T) {
	key := testKey(t)
	plain := []byte("same content")

	a := seal(t, key, plain, 16)
	b := seal(t, key, plain, 16)
	if bytes.Equal(a, b) {
		t.Error("two encryptions of the same content are identical")
	}
}

func TestTamperDetection(t *testing.T) {
	key := testKey(t)
	plain := bytes.Repeat([]byte("abcdefgh"), 10) // 80 bytes, 5 chunks of 16
	sealed := seal(t, key, plain, 16)
	chunkLen := 16 + tagSize

	tests := []struct {
		name    string
		mutate  func([]byte) []byte
		wantErr error
	}{
		{
			name: "flipped ciphertext bit",
			mutate: func(b []byte) []byte {
				b[HeaderSize+3] ^= 0x01
				return b
			},
			wantErr: ErrAuthentication,
		},
		{
			name: "flipped header prefix",
			mutate: func(b []byte) []byte {
				b[HeaderSize-1] ^= 0x01
				return b
			},
			wantErr: ErrAuthentication,
		},
		{
			name: "dropped final chunk",
			mutate: func(b []byte) []byte {
				return b[:len(b)-chunkLen]
			},
			wantErr: ErrAuthentication,
		},
		{
			name: "truncated inside tag",
			mutate: func(b []byte) []byte {
				return b[:HeaderSize+10]
			},
			wantErr: ErrTruncated,
		},
		{
			name: "swapped chunks",
			mutate: func(b []byte) []byte {
				c0 := append([]byte(nil), b[HeaderSize:HeaderSize+chunkLen]...)
				copy(b[HeaderSize:], b[HeaderSize+chunkLen:HeaderSize+2*chunkLen])
				copy(b[HeaderSize+chunkLen:], c0)
				return b
			},
			wantErr: ErrAuthentication,
		},
		{
			name: "header only",
			mutate: func(b []byte) []byte {
				return b[:HeaderSize]
			},
			wantErr: ErrTruncated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mutated := tt.mutate(append([]byte(nil), sealed...))
			_, err := open(key, mutated)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestWrongKey(t *testing.T) {
	sealed := seal(t, testKey(t), []byte("privileged"), 16)
	if _, err := open(testKey(t), sealed); !errors.Is(err, ErrAuthentication) {
		t.Errorf("err = %v, want ErrAuthentication", err)
	}
}

func TestPlaintextIsNotSealed(t *testing.T) {
	_, err := NewReader(bytes.NewReader([]byte("%PDF-1.7 plain file")), testKey(t))
	if !errors.Is(err, ErrFormat) {
		t.Errorf("err = %v, want ErrFormat", err)
	}
}

func TestInvalidKey(t *testing.T) {
	if _, err := NewWriter(io.Discard, make([]byte, 16)); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("err = %v, want ErrInvalidKey", err)
	}
}

func TestParseKey(t *testing.T) {
	const hexKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	k, err := ParseKey(hexKey)
	if err != nil {
		t.Fatalf("ParseKey(hex): %v", err)
	}
	got, _ := k.EncryptionKey(context.Background())
	if got[31] != 0x1f {
		t.Errorf("decoded key[31] = %x", got[31])
	}

	if _, err := ParseKey("c2hvcnQ="); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("short key err = %v, want ErrInvalidKey", err)
	}
	if _, err := ParseKey(""); !errors.Is(err, ErrNoKey) {
		t.Errorf("empty key err = %v, want ErrNoKey", err)
	}
}

func TestPassphraseKeyIsStable(t *testing.T) {
	ctx := context.Background()
	salt := []byte("0123456789abcdef")

	a, err := NewPassphraseKey("correct horse", salt)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := NewPassphraseKey("correct horse", salt)

	ka, _ := a.EncryptionKey(ctx)
	kb, _ := b.EncryptionKey(ctx)
	if len(ka) != KeySize || !bytes.Equal(ka, kb) {
		t.Error("same passphrase and salt must derive the same key")
	}

	again, _ := a.EncryptionKey(ctx)
	if !bytes.Equal(ka, again) {
		t.Error("key changed between calls")
	}
}
