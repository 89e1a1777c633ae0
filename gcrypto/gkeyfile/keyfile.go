// Package gkeyfile stores the sequencer's ed25519 identity on disk.
//
// The file is JSON. The 32-byte seed is either stored in hex,
// or sealed with XChaCha20-Poly1305 under a key derived from a passphrase with argon2id.
// The public key is always stored in the clear and is bound to the ciphertext.
package gkeyfile

import (
	"bytes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gordian-engine/gsequencer/gcrypto"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	version = 1
	keyType = "ed25519"

	saltSize = 16
)

var (
	ErrPassphraseRequired = errors.New("key file is sealed and no passphrase was given")
	ErrWrongPassphrase    = errors.New("wrong passphrase or corrupt key file")
)

// KDFParams are the argon2id cost parameters. They are stored in sealed files.
type KDFParams struct {
	Time      uint32 `json:"time"`
	MemoryKiB uint32 `json:"memory_kib"`
	Threads   uint8  `json:"threads"`
}

// DefaultKDFParams follow the argon2id recommendation of RFC 9106 for constrained memory.
var DefaultKDFParams = KDFParams{
	Time:      3,
	MemoryKiB: 64 * 1024,
	Threads:   4,
}

type fileJSON struct {
	Version int    `json:"version"`
	Type    string `json:"type"`
	PubKey  string `json:"pub_key"`

	Seed   string      `json:"seed,omitempty"`
	Sealed *sealedJSON `json:"sealed,omitempty"`
}

type sealedJSON struct {
	KDF        KDFParams `json:"kdf"`
	Salt       string    `json:"salt"`
	Nonce      string    `json:"nonce"`
	Ciphertext string    `json:"ciphertext"`
}

// Generate returns a new random seed.
func Generate() ([]byte, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return nil, fmt.Errorf("failed to generate seed: %w", err)
	}
	return seed, nil
}

// Marshal encodes seed, sealing it if passphrase is not empty.
func Marshal(seed, passphrase []byte, p KDFParams) ([]byte, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	pub := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)

	f := fileJSON{
		Version: version,
		Type:    keyType,
		PubKey:  hex.EncodeToString(pub),
	}

	if len(passphrase) == 0 {
		f.Seed = hex.EncodeToString(seed)
	} else {
		s, err := seal(seed, pub, passphrase, p)
		if err != nil {
			return nil, err
		}
		f.Sealed = s
	}

	return json.MarshalIndent(f, "", "  ")
}

func seal(seed, pub, passphrase []byte, p KDFParams) (*sealedJSON, error) {
	salt := make([]byte, saltSize)
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	aead, err := newAEAD(passphrase, salt, p)
	if err != nil {
		return nil, err
	}

	return &sealedJSON{
		KDF:        p,
		Salt:       hex.EncodeToString(salt),
		Nonce:      hex.EncodeToString(nonce),
		Ciphertext: hex.EncodeToString(aead.Seal(nil, nonce, seed, pub)),
	}, nil
}

func newAEAD(passphrase, salt []byte, p KDFParams) (cipher.AEAD, error) {
	if p.Time == 0 || p.MemoryKiB == 0 || p.Threads == 0 {
		return nil, fmt.Errorf("invalid KDF parameters %+v", p)
	}
	key := argon2.IDKey(passphrase, salt, p.Time, p.MemoryKiB, p.Threads, chacha20poly1305.KeySize)
	defer clear(key)

	return chacha20poly1305.NewX(key)
}

// Unmarshal decodes a key file and returns the seed.
// The passphrase is ignored for unsealed files.
func Unmarshal(data, passphrase []byte) ([]byte, error) {
	var f fileJSON
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode key file: %w", err)
	}
	if f.Version != version {
		return nil, fmt.Errorf("unsupported key file version %d", f.Version)
	}
	if f.Type != keyType {
		return nil, fmt.Errorf("unsupported key type %q", f.Type)
	}

	pub, err := hex.DecodeString(f.PubKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode public key: %w", err)
	}

	var seed []byte
	switch {
	case f.Sealed != nil:
		if len(passphrase) == 0 {
			return nil, ErrPassphraseRequired
		}
		seed, err = open(f.Sealed, pub, passphrase)
		if err != nil {
			return nil, err
		}
	case f.Seed != "":
		seed, err = hex.DecodeString(f.Seed)
		if err != nil {
			return nil, fmt.Errorf("failed to decode seed: %w", err)
		}
	default:
		return nil, errors.New("key file has no seed")
	}

	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	derived := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	if !bytes.Equal(derived, pub) {
		clear(seed)
		return nil, errors.New("seed does not match public key in key file")
	}

	return seed, nil
}

func open(s *sealedJSON, pub, passphrase []byte) ([]byte, error) {
	salt, err := hex.DecodeString(s.Salt)
	if err != nil {
		return nil, fmt.Errorf("failed to decode salt: %w", err)
	}
	nonce, err := hex.DecodeString(s.Nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to decode nonce: %w", err)
	}
	if len(nonce) != chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", chacha20poly1305.NonceSizeX, len(nonce))
	}
	ct, err := hex.DecodeString(s.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	aead, err := newAEAD(passphrase, salt, s.KDF)
	if err != nil {
		return nil, err
	}

	seed, err := aead.Open(nil, nonce, ct, pub)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return seed, nil
}

// Save writes a key file at path with owner-only permissions.
// It refuses to overwrite an existing file.
func Save(path string, seed, passphrase []byte, p KDFParams) error {
	data, err := Marshal(seed, passphrase, p)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create key file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write key file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close key file: %w", err)
	}
	return nil
}

// Load reads the key file at path and returns a signer for its key.
// The decoded seed is wiped before returning.
func Load(path string, passphrase []byte) (*gcrypto.Ed25519Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	seed, err := Unmarshal(data, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to load key file %s: %w", path, err)
	}
	defer clear(seed)

	return gcrypto.NewEd25519SignerFromSeed(seed)
}
