package harvest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zeka-hazinesi/jobboard-data/internal/fetcher"
	"github.com/zeka-hazinesi/jobboard-data/pkg/types"
)

// Harvester drives one adaptive pagination run over a single source:
// fetch the landing page, synthesize the pagination form, then drain the
// offset ledger one request at a time, feeding each page to discovery and
// extraction until the queue empties or a fatal error aborts the run.
type Harvester struct {
	profile *Profile
	exec    fetcher.Executor
	logger  *slog.Logger
	runID   string
}

// New builds a harvester for one source.
func New(profile *Profile, exec fetcher.Executor, logger *slog.Logger, runID string) *Harvester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Harvester{
		profile: profile,
		exec:    exec,
		logger:  logger.With("source", profile.Name, "run_id", runID),
		runID:   runID,
	}
}

// Run executes the harvest to completion. It always returns a report;
// on abort the records gathered so far are preserved in it.
func (h *Harvester) Run(ctx context.Context) types.HarvestReport {
	ledger := NewLedger()
	sigs := NewSignatureStore()
	agg := NewAggregator()
	started := time.Now()

	finish := func(phase types.HarvestPhase, err error) types.HarvestReport {
		report := types.HarvestReport{
			Source:       h.profile.Name,
			RunID:        h.runID,
			Phase:        phase,
			PagesVisited: ledger.VisitedCount(),
			Records:      agg.All(),
			StartedAt:    started,
			FinishedAt:   time.Now(),
		}
		if err != nil {
			report.Err = err.Error()
			h.logger.Error("harvest aborted", "pages", report.PagesVisited, "records", len(report.Records), "error", err)
		} else {
			h.logger.Info("harvest drained", "pages", report.PagesVisited, "records", len(report.Records))
		}
		return report
	}

	startURL := h.profile.StartURL
	h.logger.Info("loading landing page", "url", startURL.String())

	landing, err := h.exec.Get(ctx, startURL.String())
	if err != nil {
		return finish(types.PhaseAborted, fmt.Errorf("fetch landing page: %w", err))
	}

	// The landing page is offset 0; consume it from the ledger directly so
	// redundant rediscoveries of 0 are no-ops.
	ledger.Enqueue(0)
	ledger.NextPending()
	sigs.Remember(Signature(landing))

	records := h.profile.Extract(landing, startURL, 0)
	added := agg.Merge(records)
	h.logger.Info("page processed", "page", 1, "offset", 0, "found", len(records), "new", added, "total", agg.Len())

	form, err := SynthesizeForm(landing, startURL, h.profile.OffsetField)
	if err != nil {
		return finish(types.PhaseAborted, fmt.Errorf("synthesize pagination form: %w", err))
	}

	step := h.profile.DiscoverStep(landing)
	totalPages, hasTotal := h.profile.DiscoverTotal(landing)
	if hasTotal {
		h.logger.Info("pagination discovered", "step", step, "declared_pages", totalPages, "action", form.Action)
	} else {
		h.logger.Info("pagination discovered", "step", step, "action", form.Action)
	}

	withinTotal := func(offset types.Offset) bool {
		if !hasTotal {
			return true
		}
		return offset/step+1 <= totalPages
	}

	for _, offset := range h.profile.DiscoverOffsets(landing) {
		if withinTotal(offset) {
			ledger.Enqueue(offset)
		}
	}
	// Step-forward fallback: widgets that only render a "next" control never
	// declare offsets beyond the adjacent page.
	if (added > 0 || hasTotal) && withinTotal(step) {
		ledger.Enqueue(step)
	}

	for {
		if err := ctx.Err(); err != nil {
			return finish(types.PhaseAborted, err)
		}
		offset, ok := ledger.NextPending()
		if !ok {
			break
		}
		pageNo := offset/step + 1

		body, err := h.exec.Execute(ctx, form.Method, form.Action, form.PayloadFor(offset))
		if err != nil {
			// Later offsets are not guaranteed reachable without this one's
			// session state, so the whole run aborts.
			return finish(types.PhaseAborted, fmt.Errorf("fetch page %d (offset %d): %w", pageNo, offset, err))
		}

		if !sigs.Remember(Signature(body)) {
			h.logger.Info("identical page returned, narrowing discovery", "page", pageNo, "offset", offset)
			continue
		}

		records := h.profile.Extract(body, startURL, offset)
		added := agg.Merge(records)
		h.logger.Info("page processed", "page", pageNo, "offset", offset, "found", len(records), "new", added, "total", agg.Len())

		// Without a declared total, a non-first page adding nothing new is
		// the end-of-results heuristic; a declared total overrides it since
		// a full page can legitimately add zero new records.
		if added == 0 && !hasTotal {
			h.logger.Info("no new records, narrowing discovery", "page", pageNo, "offset", offset)
			continue
		}

		for _, found := range h.profile.DiscoverOffsets(body) {
			if withinTotal(found) {
				ledger.Enqueue(found)
			}
		}
		if next := offset + step; (added > 0 || hasTotal) && withinTotal(next) {
			ledger.Enqueue(next)
		}
	}

	return finish(types.PhaseDrained, nil)
}
