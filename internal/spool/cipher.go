package spool

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"sort"
	"strings"

	"golang.org/x/crypto/chacha20"

	"github.com/objectfs/streamcache/pkg/errors"
)

// Cipher describes a symmetric stream cipher used to encrypt spool files.
type Cipher struct {
	name    string
	keySize int
	ivSize  int
	stream  func(key, iv []byte) (cipher.Stream, error)
}

var ciphers = map[string]*Cipher{
	"AES/CTR": {
		name:    "AES/CTR",
		keySize: 32,
		ivSize:  aes.BlockSize,
		stream: func(key, iv []byte) (cipher.Stream, error) {
			block, err := aes.NewCipher(key)
			if err != nil {
				return nil, err
			}
			return cipher.NewCTR(block, iv), nil
		},
	},
	"CHACHA20": {
		name:    "ChaCha20",
		keySize: chacha20.KeySize,
		ivSize:  chacha20.NonceSize,
		stream: func(key, iv []byte) (cipher.Stream, error) {
			return chacha20.NewUnauthenticatedCipher(key, iv)
		},
	},
}

var cipherAliases = map[string]string{
	"AES":               "AES/CTR",
	"AES/CTR/NOPADDING": "AES/CTR",
	"AES-256-CTR":       "AES/CTR",
}

// LookupCipher resolves a cipher by name, case-insensitively. An empty name
// means no encryption and returns nil.
func LookupCipher(name string) (*Cipher, error) {
	key := strings.ToUpper(strings.TrimSpace(name))
	if key == "" {
		return nil, nil
	}
	if alias, ok := cipherAliases[key]; ok {
		key = alias
	}
	c, ok := ciphers[key]
	if !ok {
		return nil, errors.NewError(errors.ErrCodeInvalidCipher,
			fmt.Sprintf("unsupported spool cipher %q (supported: %s)", name, strings.Join(CipherNames(), ", "))).
			WithComponent("spool")
	}
	return c, nil
}

// CipherNames lists the canonical names of the supported ciphers.
func CipherNames() []string {
	names := make([]string, 0, len(ciphers))
	for _, c := range ciphers {
		names = append(names, c.name)
	}
	sort.Strings(names)
	return names
}

// Name returns the canonical cipher name.
func (c *Cipher) Name() string {
	return c.name
}

// NewKey generates a fresh random key and IV. Each spool file gets its own.
func (c *Cipher) NewKey() (*Key, error) {
	buf := make([]byte, c.keySize+c.ivSize)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, fmt.Errorf("generating %s key: %w", c.name, err)
	}
	return &Key{cipher: c, key: buf[:c.keySize], iv: buf[c.keySize:]}, nil
}

// Key holds the parameters for one encrypted spool file. It lives only in
// memory so the plaintext cannot be recovered from disk after a crash.
type Key struct {
	cipher *Cipher
	key    []byte
	iv     []byte
}

// Cipher returns the cipher this key belongs to.
func (k *Key) Cipher() *Cipher {
	return k.cipher
}

// Writer wraps w so that everything written is encrypted. Closing the
// returned writer closes w if it is an io.Closer.
func (k *Key) Writer(w io.Writer) (io.WriteCloser, error) {
	s, err := k.cipher.stream(k.key, k.iv)
	if err != nil {
		return nil, err
	}
	return &cipher.StreamWriter{S: s, W: w}, nil
}

// Reader wraps r so that everything read is decrypted. Every call starts a
// new keystream, matching a read from the start of the file.
func (k *Key) Reader(r io.Reader) (io.Reader, error) {
	s, err := k.cipher.stream(k.key, k.iv)
	if err != nil {
		return nil, err
	}
	return &cipher.StreamReader{S: s, R: r}, nil
}
