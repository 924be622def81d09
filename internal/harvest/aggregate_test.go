package harvest

import (
	"strings"
	"testing"

	"github.com/zeka-hazinesi/jobboard-data/pkg/types"
)

func TestIdentityKeyPrecedence(t *testing.T) {
	withID := types.ListingRecord{ID: "4711", DetailURL: "https://x.ch/jobs/a/4711", Title: "A"}
	if got := IdentityKey(withID); got != "id:4711" {
		t.Fatalf("expected explicit id to win, got %q", got)
	}

	withURL := types.ListingRecord{DetailURL: "https://x.ch/jobs/a/", Title: "A"}
	if got := IdentityKey(withURL); got != "url:https://x.ch/jobs/a" {
		t.Fatalf("expected canonical url key, got %q", got)
	}

	bare := types.ListingRecord{Title: "A", Location: "Bern"}
	key := IdentityKey(bare)
	if !strings.HasPrefix(key, "hash:") {
		t.Fatalf("expected content hash key, got %q", key)
	}
	if key != IdentityKey(bare) {
		t.Fatal("content hash key must be deterministic")
	}
}

func TestIdentityKeyIgnoresOriginPage(t *testing.T) {
	onPageOne := types.ListingRecord{DetailURL: "https://x.ch/jobs/a/1", Title: "A", SourceOffset: 0}
	onPageTwo := types.ListingRecord{DetailURL: "https://x.ch/jobs/a/1", Title: "A", SourceOffset: 24}
	if IdentityKey(onPageOne) != IdentityKey(onPageTwo) {
		t.Fatal("the same listing must map to the same key regardless of page")
	}
}

func TestAggregatorFirstSeenWins(t *testing.T) {
	agg := NewAggregator()

	added := agg.Merge([]types.ListingRecord{
		{ID: "1", Title: "Erste Fassung", SourceOffset: 0},
		{ID: "2", Title: "Zweiter Job", SourceOffset: 0},
	})
	if added != 2 {
		t.Fatalf("expected 2 added, got %d", added)
	}

	added = agg.Merge([]types.ListingRecord{
		{ID: "1", Title: "Spätere Fassung", SourceOffset: 12},
		{ID: "3", Title: "Dritter Job", SourceOffset: 12},
	})
	if added != 1 {
		t.Fatalf("expected 1 added, got %d", added)
	}

	all := agg.All()
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	if all[0].Title != "Erste Fassung" {
		t.Fatalf("first-seen record was overwritten: %+v", all[0])
	}
	if all[0].ID != "1" || all[1].ID != "2" || all[2].ID != "3" {
		t.Fatalf("insertion order not preserved: %+v", all)
	}
}
