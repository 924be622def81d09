package harvest

import (
	"crypto/sha256"
	"encoding/hex"
)

// Signature returns the content hash used to detect echoed terminal pages.
func Signature(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// SignatureStore remembers the content hashes of pages fetched in one run.
// A repeated signature means the site is echoing a page it already served,
// which the loop treats as an end-of-results signal.
type SignatureStore struct {
	seen map[string]struct{}
}

// NewSignatureStore creates an empty signature store.
func NewSignatureStore() *SignatureStore {
	return &SignatureStore{seen: make(map[string]struct{})}
}

// Remember records the signature, reporting false if it was already present.
func (s *SignatureStore) Remember(sig string) bool {
	if _, ok := s.seen[sig]; ok {
		return false
	}
	s.seen[sig] = struct{}{}
	return true
}

// Seen reports whether the signature has been recorded before.
func (s *SignatureStore) Seen(sig string) bool {
	_, ok := s.seen[sig]
	return ok
}
