package types

import (
	"time"
)

// Offset identifies one result-page window in a paginated listing.
// The step between consecutive offsets is source-specific (7, 12, 25, ...).
type Offset = int

// ListingRecord is one normalized job listing pulled from an overview page.
// Only Title and the identity inputs are guaranteed; everything else is
// best-effort and may be empty.
type ListingRecord struct {
	ID           string `json:"id,omitempty"`
	Title        string `json:"title"`
	DetailURL    string `json:"detail_url,omitempty"`
	Location     string `json:"location,omitempty"`
	Category     string `json:"category,omitempty"`
	Workload     string `json:"workload,omitempty"`
	ContractType string `json:"contract_type,omitempty"`
	PostedAt     string `json:"posted_at,omitempty"`
	SourceOffset Offset `json:"source_offset"`
}

// HarvestPhase names the terminal state of a harvest run.
type HarvestPhase string

const (
	PhaseDrained HarvestPhase = "drained"
	PhaseAborted HarvestPhase = "aborted"
)

// HarvestReport summarises one harvest run over a single source.
type HarvestReport struct {
	Source       string          `json:"source"`
	RunID        string          `json:"run_id"`
	Phase        HarvestPhase    `json:"phase"`
	PagesVisited int             `json:"pages_visited"`
	Records      []ListingRecord `json:"records"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
	Err          string          `json:"error,omitempty"`
}
