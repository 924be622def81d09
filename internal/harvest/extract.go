package harvest

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/zeka-hazinesi/jobboard-data/pkg/types"
)

const ancestorDepthLimit = 6

var (
	workloadRe = regexp.MustCompile(`\b\d{1,3}\s*(?:[-–]\s*\d{1,3}\s*)?%`)
	dateRe     = regexp.MustCompile(`\b\d{1,2}[./]\d{1,2}[./]\d{2,4}\b`)
	trailingID = regexp.MustCompile(`/(\d+)/?$`)
)

// Extract pulls one listing record out of each repeated teaser fragment on
// the page. Fragments are anchored on detail-page hyperlinks matching the
// profile's path pattern, never on exact tag names, since markup varies by
// template. Fragments without a usable title are skipped silently; two
// fragments sharing a detail URL collapse to one record. Never fails: a
// page with no matching fragments yields an empty slice.
func (p *Profile) Extract(pageHTML string, base *url.URL, originOffset types.Offset) []types.ListingRecord {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return nil
	}
	if base == nil {
		base = p.StartURL
	}

	var records []types.ListingRecord
	seenLocal := make(map[string]struct{})

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return
		}
		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		resolved.Fragment = ""
		if !sameSite(base, resolved) {
			return
		}
		if !p.DetailPath.MatchString(resolved.String()) {
			return
		}
		detailURL := resolved.String()
		if _, dup := seenLocal[detailURL]; dup {
			return
		}
		seenLocal[detailURL] = struct{}{}

		node := a.Get(0)
		card := closestAncestor(node, ancestorDepthLimit, isCardNode)
		if card == nil {
			card = node.Parent
		}

		title := p.teaserTitle(a, card, resolved)
		if title == "" {
			return
		}

		rec := types.ListingRecord{
			Title:        title,
			DetailURL:    detailURL,
			SourceOffset: originOffset,
		}
		if m := trailingID.FindStringSubmatch(resolved.Path); m != nil {
			rec.ID = m[1]
		}
		p.populateMetadata(&rec, card, title)

		records = append(records, rec)
	})

	return records
}

// teaserTitle reads the most specific label available: a heading inside
// the card, the anchor's title attribute, the anchor text, or as a last
// resort the URL's final path segment.
func (p *Profile) teaserTitle(a *goquery.Selection, card *html.Node, detail *url.URL) string {
	if card != nil {
		if heading := findElement(card, "h1", "h2", "h3", "h4"); heading != nil {
			if title := flattenText(heading); title != "" {
				return title
			}
		}
	}
	if title := strings.TrimSpace(a.AttrOr("title", "")); title != "" {
		return title
	}
	if node := a.Get(0); node != nil {
		if title := flattenText(node); title != "" {
			return title
		}
	}
	segment := strings.Trim(detail.Path, "/")
	if idx := strings.LastIndex(segment, "/"); idx >= 0 {
		segment = segment[idx+1:]
	}
	segment = strings.ReplaceAll(segment, "-", " ")
	segment = strings.TrimSpace(segment)
	if segment == "" || trailingID.MatchString("/"+segment) {
		return ""
	}
	return titleCase(segment)
}

// populateMetadata fills the nullable fields by best-effort matching over
// the card's flattened text. Absence of any field is not an error.
func (p *Profile) populateMetadata(rec *types.ListingRecord, card *html.Node, title string) {
	if card == nil {
		return
	}
	flat := flattenText(card)
	clean := strings.TrimSpace(strings.ReplaceAll(flat, title, " "))

	for _, loc := range p.Locations {
		if strings.Contains(clean, loc) {
			rec.Location = loc
			break
		}
	}
	if rec.Location == "" {
		if meta := findMetaText(card); meta != "" && len(meta) <= 160 {
			rec.Location = meta
		}
	}

	for _, cat := range p.Categories {
		if strings.Contains(clean, cat) {
			rec.Category = cat
			break
		}
	}
	for _, contract := range p.Contracts {
		if containsWord(clean, contract) {
			rec.ContractType = contract
			break
		}
	}

	if m := workloadRe.FindString(clean); m != "" {
		rec.Workload = strings.Join(strings.Fields(m), "")
	}

	rec.PostedAt = findPostedDate(card, clean)
}

// findPostedDate prefers an explicit <time> element over a date-looking
// token in the card text.
func findPostedDate(card *html.Node, clean string) string {
	if timeEl := findElement(card, "time"); timeEl != nil {
		for _, attr := range timeEl.Attr {
			if attr.Key == "datetime" && strings.TrimSpace(attr.Val) != "" {
				return strings.TrimSpace(attr.Val)
			}
		}
		if text := flattenText(timeEl); text != "" {
			return text
		}
	}
	return dateRe.FindString(clean)
}

// findMetaText locates a metadata block inside the card by class shape.
func findMetaText(card *html.Node) string {
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n == nil || found != nil {
			return
		}
		if n.Type == html.ElementNode {
			for _, attr := range n.Attr {
				if attr.Key != "class" {
					continue
				}
				cls := strings.ToLower(attr.Val)
				if strings.Contains(cls, "meta") || strings.Contains(cls, "key-value") {
					found = n
					return
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(card)
	if found == nil {
		return ""
	}
	return flattenText(found)
}

// findElement returns the first descendant element with one of the names,
// in document order.
func findElement(root *html.Node, names ...string) *html.Node {
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n == nil || found != nil {
			return
		}
		if n.Type == html.ElementNode {
			for _, name := range names {
				if n.Data == name {
					found = n
					return
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	for child := root.FirstChild; child != nil; child = child.NextSibling {
		walk(child)
	}
	return found
}

// sameSite accepts hosts sharing the base's registrable domain, so detail
// links on sibling subdomains (jobs.apps.example.ch) still count.
func sameSite(base, target *url.URL) bool {
	bh := strings.ToLower(base.Hostname())
	th := strings.ToLower(target.Hostname())
	if bh == th {
		return true
	}
	labels := strings.Split(bh, ".")
	if len(labels) < 2 {
		return false
	}
	apex := strings.Join(labels[len(labels)-2:], ".")
	return th == apex || strings.HasSuffix(th, "."+apex)
}

func containsWord(text, word string) bool {
	idx := strings.Index(text, word)
	for idx >= 0 {
		before := idx == 0 || !isWordByte(text[idx-1])
		afterIdx := idx + len(word)
		after := afterIdx >= len(text) || !isWordByte(text[afterIdx])
		if before && after {
			return true
		}
		next := strings.Index(text[idx+1:], word)
		if next < 0 {
			return false
		}
		idx += 1 + next
	}
	return false
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

func titleCase(s string) string {
	fields := strings.Fields(s)
	for i, f := range fields {
		r := []rune(f)
		if len(r) > 0 {
			fields[i] = strings.ToUpper(string(r[0])) + string(r[1:])
		}
	}
	return strings.Join(fields, " ")
}
