package store

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the size of the slot encryption key (32 bytes, 256 bits).
const KeySize = chacha20poly1305.KeySize

var (
	// ErrInvalidKeySize indicates the encryption key is not the correct size.
	ErrInvalidKeySize = errors.New("encryption key must be 32 bytes")
	// ErrInvalidCiphertext indicates the ciphertext is too short or malformed.
	ErrInvalidCiphertext = errors.New("ciphertext too short")
)

// Codec transforms slot bytes on their way to and from the backend.
type Codec interface {
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

type nopCodec struct{}

func (nopCodec) Encode(data []byte) ([]byte, error) { return data, nil }
func (nopCodec) Decode(data []byte) ([]byte, error) { return data, nil }

// SnappyCodec compresses slot contents with snappy block encoding.
type SnappyCodec struct{}

// NewSnappyCodec creates a snappy compression codec.
func NewSnappyCodec() SnappyCodec { return SnappyCodec{} }

// Encode compresses the data.
func (SnappyCodec) Encode(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

// Decode decompresses the data.
func (SnappyCodec) Decode(data []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("snappy decode: %w", err)
	}
	return out, nil
}

// SealedCodec encrypts slot contents with ChaCha20-Poly1305. The nonce is
// prepended to the ciphertext.
type SealedCodec struct {
	key []byte
}

// NewSealedCodec creates an encrypting codec with the given 32-byte key.
func NewSealedCodec(key []byte) (*SealedCodec, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &SealedCodec{key: k}, nil
}

// Encode seals the data.
func (c *SealedCodec) Encode(data []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(c.key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, data, nil), nil
}

// Decode opens data sealed by Encode.
func (c *SealedCodec) Decode(data []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(c.key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	if len(data) < aead.NonceSize() {
		return nil, ErrInvalidCiphertext
	}
	nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("open ciphertext: %w", err)
	}
	return plaintext, nil
}

// ChainCodec applies codecs in order on encode and in reverse on decode.
type ChainCodec struct {
	codecs []Codec
}

// NewChainCodec composes codecs; encode order is the argument order.
func NewChainCodec(codecs ...Codec) ChainCodec {
	return ChainCodec{codecs: codecs}
}

// Encode applies each codec in order.
func (c ChainCodec) Encode(data []byte) ([]byte, error) {
	var err error
	for _, codec := range c.codecs {
		if data, err = codec.Encode(data); err != nil {
			return nil, err
		}
	}
	return data, nil
}

// Decode applies each codec in reverse order.
func (c ChainCodec) Decode(data []byte) ([]byte, error) {
	var err error
	for i := len(c.codecs) - 1; i >= 0; i-- {
		if data, err = c.codecs[i].Decode(data); err != nil {
			return nil, err
		}
	}
	return data, nil
}
