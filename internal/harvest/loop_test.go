package harvest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/zeka-hazinesi/jobboard-data/internal/config"
	"github.com/zeka-hazinesi/jobboard-data/pkg/types"
)

// fakeExecutor serves canned pages keyed by the offset in the payload.
type fakeExecutor struct {
	t       *testing.T
	landing string
	pages   map[int]string
	errAt   map[int]error
	calls   []int
}

func (f *fakeExecutor) Get(ctx context.Context, rawURL string) (string, error) {
	return f.landing, nil
}

func (f *fakeExecutor) Execute(ctx context.Context, method, action string, payload url.Values) (string, error) {
	off, err := strconv.Atoi(payload.Get("offset"))
	if err != nil {
		f.t.Fatalf("payload missing numeric offset: %v", payload)
	}
	f.calls = append(f.calls, off)
	if e, ok := f.errAt[off]; ok {
		return "", e
	}
	if body, ok := f.pages[off]; ok {
		return body, nil
	}
	return fmt.Sprintf("<html><body><p>leere Seite %d</p></body></html>", off), nil
}

// listingPage renders a result page with the given banner text, teaser
// links, and pagination-jump directives.
func listingPage(banner string, jumps []int, links ...[2]string) string {
	var b strings.Builder
	b.WriteString("<html><body><p>")
	b.WriteString(banner)
	b.WriteString("</p>\n")
	b.WriteString(`<form action="/search" method="post">` +
		`<input type="hidden" name="offset" value="0"/>` +
		`<input type="hidden" name="lang" value="de"/>` +
		"</form>\n<ul>\n")
	for _, link := range links {
		fmt.Fprintf(&b, `<li><a href=%q>%s</a></li>`+"\n", link[1], link[0])
	}
	b.WriteString("</ul>\n<script>\n")
	for _, n := range jumps {
		fmt.Fprintf(&b, "sendPagination(%d);\n", n)
	}
	b.WriteString("</script>\n</body></html>")
	return b.String()
}

func loopProfile(t *testing.T, cfg config.SourceConfig) *Profile {
	t.Helper()
	cfg.OffsetField = "offset"
	return testProfile(t, cfg)
}

func runHarvest(t *testing.T, profile *Profile, exec *fakeExecutor) types.HarvestReport {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(profile, exec, logger, "test-run").Run(context.Background())
}

func TestHarvestDrainsDiscoveredOffsetGraph(t *testing.T) {
	profile := loopProfile(t, config.SourceConfig{})

	job := func(n int) [2]string {
		return [2]string{fmt.Sprintf("Stelle %d", n), fmt.Sprintf("/jobs/stelle-%d/%d", n, n)}
	}

	exec := &fakeExecutor{
		t:       t,
		landing: listingPage("Startseite", []int{7, 14}, job(1), job(2)),
		pages: map[int]string{
			7:  listingPage("Seite offset 7", []int{21}, job(3)),
			14: listingPage("Seite offset 14", nil, job(1)),
			21: listingPage("Seite offset 21", nil, job(2)),
		},
	}

	report := runHarvest(t, profile, exec)

	if report.Phase != types.PhaseDrained {
		t.Fatalf("expected drained, got %s (err=%s)", report.Phase, report.Err)
	}
	wantCalls := []int{7, 14, 21}
	if len(exec.calls) != len(wantCalls) {
		t.Fatalf("expected calls %v, got %v", wantCalls, exec.calls)
	}
	for i := range wantCalls {
		if exec.calls[i] != wantCalls[i] {
			t.Fatalf("expected calls %v, got %v", wantCalls, exec.calls)
		}
	}
	if report.PagesVisited != 4 {
		t.Fatalf("expected 4 pages visited, got %d", report.PagesVisited)
	}
	if len(report.Records) != 3 {
		t.Fatalf("expected 3 unique records, got %d: %+v", len(report.Records), report.Records)
	}
}

func TestHarvestStopsDiscoveryOnEchoedTerminalPage(t *testing.T) {
	// The declared total says five pages, so only the duplicate-signature
	// check can stop the sequential walk early.
	profile := loopProfile(t, config.SourceConfig{
		TotalPattern: `Seite\s+\d+\s+von\s+(\d+)`,
	})

	terminal := listingPage("Seite 2", nil, [2]string{"Stelle 3", "/jobs/stelle-3/3"})

	exec := &fakeExecutor{
		t: t,
		landing: listingPage("Seite 1 von 5", []int{7},
			[2]string{"Stelle 1", "/jobs/stelle-1/1"},
			[2]string{"Stelle 2", "/jobs/stelle-2/2"},
		),
		pages: map[int]string{
			7:  terminal,
			14: terminal, // site echoes the last page for any further offset
		},
	}

	report := runHarvest(t, profile, exec)

	if report.Phase != types.PhaseDrained {
		t.Fatalf("expected drained, got %s (err=%s)", report.Phase, report.Err)
	}
	wantCalls := []int{7, 14}
	if len(exec.calls) != len(wantCalls) || exec.calls[0] != 7 || exec.calls[1] != 14 {
		t.Fatalf("expected calls %v, got %v", wantCalls, exec.calls)
	}
	if len(report.Records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(report.Records))
	}
}

func TestHarvestCollapsesDuplicateDetailURLsInOutput(t *testing.T) {
	profile := loopProfile(t, config.SourceConfig{})

	exec := &fakeExecutor{
		t: t,
		landing: listingPage("Startseite", nil,
			[2]string{"Polymechaniker EFZ (m/w/d)", "/jobs/polymechaniker/555"},
			[2]string{"Polymechaniker EFZ", "/jobs/polymechaniker/555"},
		),
	}

	report := runHarvest(t, profile, exec)

	if report.Phase != types.PhaseDrained {
		t.Fatalf("expected drained, got %s", report.Phase)
	}
	if len(report.Records) != 1 {
		t.Fatalf("expected exactly one record, got %d: %+v", len(report.Records), report.Records)
	}
}

func TestHarvestAbortsWhenFormMissing(t *testing.T) {
	profile := loopProfile(t, config.SourceConfig{})

	exec := &fakeExecutor{
		t: t,
		landing: `<html><body><ul>
			<li><a href="/jobs/einzige-stelle/1">Einzige Stelle</a></li>
		</ul></body></html>`,
	}

	report := runHarvest(t, profile, exec)

	if report.Phase != types.PhaseAborted {
		t.Fatalf("expected aborted, got %s", report.Phase)
	}
	if !strings.Contains(report.Err, "form") {
		t.Fatalf("expected form error, got %q", report.Err)
	}
	// Landing-page records are still emitted.
	if len(report.Records) != 1 {
		t.Fatalf("expected landing record to survive, got %d", len(report.Records))
	}
	if len(exec.calls) != 0 {
		t.Fatalf("no pagination request should be issued, got %v", exec.calls)
	}
}

func TestHarvestAbortKeepsPartialResults(t *testing.T) {
	profile := loopProfile(t, config.SourceConfig{})

	exec := &fakeExecutor{
		t: t,
		landing: listingPage("Startseite", []int{7, 14},
			[2]string{"Stelle 1", "/jobs/stelle-1/1"},
		),
		pages: map[int]string{
			7: listingPage("Seite 2", nil, [2]string{"Stelle 2", "/jobs/stelle-2/2"}),
		},
		errAt: map[int]error{
			14: fmt.Errorf("fetch page: unexpected status 500"),
		},
	}

	report := runHarvest(t, profile, exec)

	if report.Phase != types.PhaseAborted {
		t.Fatalf("expected aborted, got %s", report.Phase)
	}
	if len(report.Records) != 2 {
		t.Fatalf("expected partial results preserved, got %d", len(report.Records))
	}
	if report.Err == "" {
		t.Fatal("abort must carry the fetch error")
	}
}
