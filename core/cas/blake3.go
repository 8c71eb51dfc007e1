package cas

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// blake3Pointer is the structure stored in BLAKE3 pointer files.
type blake3Pointer struct {
	SHA256 string `json:"sha256"`
}

// createBlake3Pointer creates a pointer file that maps a BLAKE3 hash to a SHA-256 hash.
// Pointer files are stored at: <root>/blobs/blake3/<first2>/<blake3>.json
func (s *Store) createBlake3Pointer(blake3Hash, sha256Hash string) error {
	pointerPath := s.pointerPath(blake3Hash)
	if _, err := os.Stat(pointerPath); err == nil {
		return nil
	}

	data, err := json.Marshal(blake3Pointer{SHA256: sha256Hash})
	if err != nil {
		return fmt.Errorf("failed to marshal pointer: %w", err)
	}
	return writeAtomic(pointerPath, ".pointer-*", data)
}

func (s *Store) pointerPath(blake3Hash string) string {
	return filepath.Join(s.root, "blobs", "blake3", blake3Hash[:2], blake3Hash+".json")
}

// LookupBlake3 looks up a SHA-256 hash by its corresponding BLAKE3 hash.
// Returns ErrBlobNotFound if no pointer file exists for the BLAKE3 hash.
func (s *Store) LookupBlake3(blake3Hash string) (string, error) {
	if !isValidHash(blake3Hash) {
		return "", ErrInvalidHash
	}

	data, err := os.ReadFile(s.pointerPath(blake3Hash))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrBlobNotFound
		}
		return "", fmt.Errorf("failed to read pointer: %w", err)
	}

	var pointer blake3Pointer
	if err := json.Unmarshal(data, &pointer); err != nil {
		return "", fmt.Errorf("failed to parse pointer: %w", err)
	}
	if !isValidHash(pointer.SHA256) {
		return "", fmt.Errorf("pointer %s: %w", blake3Hash, ErrInvalidHash)
	}
	return pointer.SHA256, nil
}

// GetByBlake3 retrieves a blob by its BLAKE3 hash.
// It first looks up the SHA-256 hash, then retrieves the blob.
func (s *Store) GetByBlake3(blake3Hash string) ([]byte, error) {
	sha256Hash, err := s.LookupBlake3(blake3Hash)
	if err != nil {
		return nil, err
	}
	return s.Get(sha256Hash)
}

// Resolve accepts either digest of a stored blob and returns its SHA-256.
func (s *Store) Resolve(hash string) (string, error) {
	if !isValidHash(hash) {
		return "", ErrInvalidHash
	}
	if s.Exists(hash) {
		return hash, nil
	}
	return s.LookupBlake3(hash)
}

// Blake3Hash computes the BLAKE3 hash of the given data without storing it.
func Blake3Hash(data []byte) string {
	h := blake3.Sum256(data)
	return hex.EncodeToString(h[:])
}
