// Package securefile reads and writes small encrypted JSON records with
// atomic file replacement. Argon2id derives the key, XChaCha20-Poly1305
// seals the payload. Used for material that must survive restarts but
// never sit on disk in the clear (the generic wallet keypair).
package securefile

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrBadPassphrase is returned when decryption fails. Deliberately
// generic: wrong passphrase and corrupted file are indistinguishable.
var ErrBadPassphrase = errors.New("wrong passphrase or corrupted file")

// envelope is the on-disk format. The KDF parameters ride along so they
// can be tuned later without breaking existing files.
type envelope struct {
	Version      int    `json:"version"`
	ArgonTime    uint32 `json:"argon_time"`
	ArgonMemory  uint32 `json:"argon_memory_kib"`
	ArgonThreads uint8  `json:"argon_threads"`
	Salt         string `json:"salt_b64"`
	Nonce        string `json:"nonce_b64"`
	Ciphertext   string `json:"ct_b64"`
}

const (
	envelopeVersion = 1

	argonTime    = 2
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 1
	keyLen       = 32
)

// Write marshals v, seals it under passphrase, and atomically replaces
// path. The label binds the ciphertext to its purpose as AEAD associated
// data; Read must use the same label.
func Write[T any](path, label string, v T, passphrase []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}

	plain, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	key := argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, keyLen)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return fmt.Errorf("init aead: %w", err)
	}
	ct := aead.Seal(nil, nonce, plain, []byte(label))

	out, err := json.MarshalIndent(envelope{
		Version:      envelopeVersion,
		ArgonTime:    argonTime,
		ArgonMemory:  argonMemory,
		ArgonThreads: argonThreads,
		Salt:         base64.StdEncoding.EncodeToString(salt),
		Nonce:        base64.StdEncoding.EncodeToString(nonce),
		Ciphertext:   base64.StdEncoding.EncodeToString(ct),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return atomicWrite(path, out, 0o600)
}

// Read opens path under passphrase and unmarshals the payload into T.
func Read[T any](path, label string, passphrase []byte) (T, error) {
	var zero T

	b, err := os.ReadFile(path)
	if err != nil {
		return zero, fmt.Errorf("read %s: %w", path, err)
	}

	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return zero, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Version != envelopeVersion {
		return zero, fmt.Errorf("unsupported envelope version %d", env.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil {
		return zero, fmt.Errorf("decode salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return zero, fmt.Errorf("decode nonce: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return zero, fmt.Errorf("decode ciphertext: %w", err)
	}

	key := argon2.IDKey(passphrase, salt, env.ArgonTime, env.ArgonMemory, env.ArgonThreads, keyLen)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return zero, fmt.Errorf("init aead: %w", err)
	}

	plain, err := aead.Open(nil, nonce, ct, []byte(label))
	if err != nil {
		return zero, ErrBadPassphrase
	}

	var out T
	if err := json.Unmarshal(plain, &out); err != nil {
		return zero, fmt.Errorf("unmarshal payload: %w", err)
	}
	return out, nil
}

func atomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".securefile-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return os.Rename(tmpName, path)
}
