package harvest

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/zeka-hazinesi/jobboard-data/internal/config"
)

const (
	// defaultPaginationPattern matches the jump directive emitted by the
	// pagination widget used across most of the career portals we harvest.
	defaultPaginationPattern = `sendPagination\((\d+)\)`

	// defaultDetailPathPattern recognises detail-page hyperlinks when a
	// source does not declare its own path shape.
	defaultDetailPathPattern = `(?i)/(?:jobs?|stellen?|offene-stellen|vacanc(?:y|ies)|positions?)/`

	// defaultStep is the page window used when neither the page nor the
	// profile reveals one.
	defaultStep = 12

	maxPlausibleStep = 200
)

// candidateOffsetFields are field names pagination widgets commonly write
// the target offset into, tried in order when a profile does not pin one.
var candidateOffsetFields = []string{
	"offset", "start", "from", "page", "pageStart", "firstResult", "resultStart", "startIndex",
}

// Profile is the compiled per-source harvesting profile: the start URL plus
// the patterns that drive offset discovery and teaser extraction.
type Profile struct {
	Name        string
	StartURL    *url.URL
	Pagination  *regexp.Regexp
	Total       *regexp.Regexp
	DetailPath  *regexp.Regexp
	OffsetField string
	StepHint    int
	Headers     map[string]string

	// Known site vocabulary, used to pick metadata fields out of the
	// flattened teaser text without opening detail pages.
	Locations  []string
	Categories []string
	Contracts  []string
}

// CompileProfile validates and compiles a source configuration.
func CompileProfile(cfg config.SourceConfig) (*Profile, error) {
	start, err := url.Parse(cfg.StartURL)
	if err != nil {
		return nil, fmt.Errorf("source %q: parse start_url: %w", cfg.Name, err)
	}
	if !start.IsAbs() {
		return nil, fmt.Errorf("source %q: start_url must be absolute", cfg.Name)
	}

	pagination := defaultPaginationPattern
	if strings.TrimSpace(cfg.PaginationPattern) != "" {
		pagination = cfg.PaginationPattern
	}
	pagRe, err := regexp.Compile(pagination)
	if err != nil {
		return nil, fmt.Errorf("source %q: pagination_pattern: %w", cfg.Name, err)
	}
	if pagRe.NumSubexp() < 1 {
		return nil, fmt.Errorf("source %q: pagination_pattern needs a numeric capture group", cfg.Name)
	}

	var totalRe *regexp.Regexp
	if strings.TrimSpace(cfg.TotalPattern) != "" {
		totalRe, err = regexp.Compile(cfg.TotalPattern)
		if err != nil {
			return nil, fmt.Errorf("source %q: total_pattern: %w", cfg.Name, err)
		}
		if totalRe.NumSubexp() < 1 {
			return nil, fmt.Errorf("source %q: total_pattern needs a numeric capture group", cfg.Name)
		}
	}

	detail := defaultDetailPathPattern
	if strings.TrimSpace(cfg.DetailPathPattern) != "" {
		detail = cfg.DetailPathPattern
	}
	detailRe, err := regexp.Compile(detail)
	if err != nil {
		return nil, fmt.Errorf("source %q: detail_path_pattern: %w", cfg.Name, err)
	}

	step := cfg.StepHint
	if step <= 0 {
		step = defaultStep
	}

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	return &Profile{
		Name:        cfg.Name,
		StartURL:    start,
		Pagination:  pagRe,
		Total:       totalRe,
		DetailPath:  detailRe,
		OffsetField: cfg.OffsetField,
		StepHint:    step,
		Headers:     headers,
		Locations:   longestFirst(cfg.Locations),
		Categories:  longestFirst(cfg.Categories),
		Contracts:   longestFirst(cfg.Contracts),
	}, nil
}

// longestFirst orders vocabulary so that "Stage découverte" is tried before
// "Stage" and similar prefixes never shadow their longer variants.
func longestFirst(values []string) []string {
	out := make([]string, len(values))
	copy(out, values)
	sort.SliceStable(out, func(i, j int) bool {
		return len(out[i]) > len(out[j])
	})
	return out
}
