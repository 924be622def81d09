package harvest

import (
	"crypto/sha256"
	"fmt"
	"strings"

	om "github.com/wk8/go-ordered-map/v2"

	"github.com/zeka-hazinesi/jobboard-data/pkg/types"
)

// IdentityKey derives the stable identity of a record from its own content,
// so the same real-world listing maps to the same key regardless of which
// page it was seen on. Preference order: explicit id, canonical detail URL,
// content hash over the title and location.
func IdentityKey(rec types.ListingRecord) string {
	if rec.ID != "" {
		return "id:" + rec.ID
	}
	if rec.DetailURL != "" {
		return "url:" + strings.TrimRight(rec.DetailURL, "/")
	}
	sum := sha256.Sum256([]byte(rec.Title + "\x00" + rec.Location))
	b := sum[:16]
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("hash:%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}

// Aggregator merges records across pages into a single set keyed by
// identity. First-seen wins: earlier pages are assumed more authoritative
// since sources usually sort by recency. Insertion order is preserved for
// deterministic output.
type Aggregator struct {
	records *om.OrderedMap[string, types.ListingRecord]
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{records: om.New[string, types.ListingRecord]()}
}

// Merge inserts records whose identity key is novel and reports how many
// were added; later occurrences of a key are discarded without overwriting.
func (a *Aggregator) Merge(records []types.ListingRecord) int {
	added := 0
	for _, rec := range records {
		key := IdentityKey(rec)
		if _, exists := a.records.Get(key); exists {
			continue
		}
		a.records.Set(key, rec)
		added++
	}
	return added
}

// All returns the aggregated records in insertion order.
func (a *Aggregator) All() []types.ListingRecord {
	out := make([]types.ListingRecord, 0, a.records.Len())
	for pair := a.records.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Len reports the number of unique records aggregated so far.
func (a *Aggregator) Len() int {
	return a.records.Len()
}
