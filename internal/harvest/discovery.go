package harvest

import (
	"sort"
	"strconv"

	"github.com/zeka-hazinesi/jobboard-data/pkg/types"
)

// DiscoverOffsets scans the page body (inline script blocks included) for
// pagination-jump directives and returns every target offset found, plus
// offset 0, in ascending order. It is pure and total: a page without any
// directive yields just {0}.
func (p *Profile) DiscoverOffsets(pageText string) []types.Offset {
	found := map[types.Offset]struct{}{0: {}}
	for _, m := range p.Pagination.FindAllStringSubmatch(pageText, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 0 {
			continue
		}
		found[n] = struct{}{}
	}
	offsets := make([]types.Offset, 0, len(found))
	for off := range found {
		offsets = append(offsets, off)
	}
	sort.Ints(offsets)
	return offsets
}

// DiscoverStep reads the page window size from the first jump directive.
// The first "jump forward" operand equals the step on the widgets we
// target; implausible values fall back to the profile hint.
func (p *Profile) DiscoverStep(pageText string) int {
	m := p.Pagination.FindStringSubmatch(pageText)
	if m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n >= 1 && n <= maxPlausibleStep {
			return n
		}
	}
	return p.StepHint
}

// DiscoverTotal parses the declared total page count from the result-count
// banner, when the profile has a total pattern and the page shows one. The
// last capture group carries the total ("Seite 1 von 12" styles).
func (p *Profile) DiscoverTotal(pageText string) (int, bool) {
	if p.Total == nil {
		return 0, false
	}
	m := p.Total.FindStringSubmatch(pageText)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[len(m)-1])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
