package store

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps one file per identifier under a root directory. When an
// encryption key is configured, blobs are sealed with AES-GCM; the key is
// stretched to 32 bytes with SHA-256. Writes are atomic (temp file + rename).
type FileStore struct {
	root string
	aead cipher.AEAD
}

// NewFileStore creates the root directory if needed. An empty key stores
// blobs in the clear.
func NewFileStore(root, encryptionKey string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	s := &FileStore{root: root}
	if encryptionKey != "" {
		key := sha256.Sum256([]byte(encryptionKey))
		block, err := aes.NewCipher(key[:])
		if err != nil {
			return nil, fmt.Errorf("init cipher: %w", err)
		}
		s.aead, err = cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("init gcm: %w", err)
		}
	}
	return s, nil
}

func (s *FileStore) Save(_ context.Context, id string, blob []byte) error {
	data := blob
	if s.aead != nil {
		nonce := make([]byte, s.aead.NonceSize())
		if _, err := rand.Read(nonce); err != nil {
			return fmt.Errorf("generate nonce: %w", err)
		}
		data = s.aead.Seal(nonce, nonce, blob, nil)
	}

	path := s.path(id)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write session %s: %w", id, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit session %s: %w", id, err)
	}
	return nil
}

func (s *FileStore) Load(_ context.Context, id string) ([]byte, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session %s: %w", id, err)
	}

	if s.aead == nil {
		return data, nil
	}
	ns := s.aead.NonceSize()
	if len(data) < ns {
		return nil, fmt.Errorf("session %s: blob too short", id)
	}
	blob, err := s.aead.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt session %s: %w", id, err)
	}
	return blob, nil
}

func (s *FileStore) Delete(_ context.Context, id string) error {
	err := os.Remove(s.path(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) path(id string) string {
	return filepath.Join(s.root, sanitizeID(id)+".session")
}

// sanitizeID keeps identifiers safe as file names. Anything outside
// [a-zA-Z0-9._-] becomes an underscore; path traversal is impossible.
func sanitizeID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" || strings.Trim(out, ".") == "" {
		return "_"
	}
	return out
}
