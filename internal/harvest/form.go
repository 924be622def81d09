package harvest

import (
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrFormNotFound means the landing page carries no pagination-capable
// form, so no page beyond the first is reachable for this source.
var ErrFormNotFound = errors.New("no pagination-capable form found")

// Form is the reconstructed pagination form: the request a page's own
// pagination control would have sent, with the offset field left variable.
type Form struct {
	Method      string
	Action      string
	OffsetField string
	Fields      url.Values
}

// PayloadFor clones the captured base fields with the offset field
// overridden to the target offset.
func (f *Form) PayloadFor(offset int) url.Values {
	payload := make(url.Values, len(f.Fields)+1)
	for k, v := range f.Fields {
		payload[k] = append([]string(nil), v...)
	}
	payload.Set(f.OffsetField, strconv.Itoa(offset))
	return payload
}

// SynthesizeForm locates the pagination-capable form on the landing page —
// the one containing a field holding the current offset — and captures
// every field's current value so a submission looks legitimate. offsetField
// pins the field by name or id; when empty, common candidates are tried.
func SynthesizeForm(landingHTML string, base *url.URL, offsetField string) (*Form, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(landingHTML))
	if err != nil {
		return nil, err
	}

	candidates := candidateOffsetFields
	if offsetField != "" {
		candidates = []string{offsetField}
	}

	var form *Form
	doc.Find("form").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		field, ok := matchOffsetField(sel, candidates)
		if !ok {
			return true
		}
		form = captureForm(sel, base, field)
		return false
	})
	if form == nil {
		return nil, ErrFormNotFound
	}
	return form, nil
}

// matchOffsetField finds an input inside the form whose name or id matches
// one of the candidate offset field names, falling back to any hidden field
// with a purely numeric current value.
func matchOffsetField(form *goquery.Selection, candidates []string) (string, bool) {
	for _, cand := range candidates {
		found := ""
		form.Find("input").EachWithBreak(func(_ int, inp *goquery.Selection) bool {
			name := strings.TrimSpace(inp.AttrOr("name", ""))
			id := strings.TrimSpace(inp.AttrOr("id", ""))
			if name == cand || id == cand {
				if name == "" {
					name = id
				}
				found = name
				return false
			}
			return true
		})
		if found != "" {
			return found, true
		}
	}

	found := ""
	form.Find(`input[type="hidden"]`).EachWithBreak(func(_ int, inp *goquery.Selection) bool {
		name := strings.TrimSpace(inp.AttrOr("name", ""))
		if name == "" {
			return true
		}
		val := strings.TrimSpace(inp.AttrOr("value", ""))
		if _, err := strconv.Atoi(val); err == nil {
			found = name
			return false
		}
		return true
	})
	return found, found != ""
}

// captureForm reads every current field value: inputs (checked boxes and
// radios only), the selected option per select, and textarea contents.
func captureForm(sel *goquery.Selection, base *url.URL, offsetField string) *Form {
	fields := url.Values{}

	sel.Find("input").Each(func(_ int, inp *goquery.Selection) {
		name := strings.TrimSpace(inp.AttrOr("name", ""))
		if name == "" {
			return
		}
		switch strings.ToLower(inp.AttrOr("type", "text")) {
		case "checkbox", "radio":
			if _, checked := inp.Attr("checked"); checked {
				val := inp.AttrOr("value", "on")
				fields.Set(name, val)
			}
		case "submit", "button", "image", "file":
			// Buttons only submit their own value when clicked.
		default:
			fields.Set(name, inp.AttrOr("value", ""))
		}
	})

	sel.Find("select").Each(func(_ int, s *goquery.Selection) {
		name := strings.TrimSpace(s.AttrOr("name", ""))
		if name == "" {
			return
		}
		opt := s.Find("option[selected]").First()
		if opt.Length() == 0 {
			opt = s.Find("option").First()
		}
		if opt.Length() > 0 {
			val, ok := opt.Attr("value")
			if !ok {
				val = strings.TrimSpace(opt.Text())
			}
			fields.Set(name, val)
		}
	})

	sel.Find("textarea").Each(func(_ int, ta *goquery.Selection) {
		name := strings.TrimSpace(ta.AttrOr("name", ""))
		if name == "" {
			return
		}
		fields.Set(name, ta.Text())
	})

	if fields.Get(offsetField) == "" {
		fields.Set(offsetField, "0")
	}

	method := strings.ToUpper(strings.TrimSpace(sel.AttrOr("method", "")))
	if method == "" {
		method = "POST"
	}

	action := strings.TrimSpace(sel.AttrOr("action", ""))
	resolved := base.String()
	if action != "" {
		if u, err := base.Parse(action); err == nil {
			resolved = u.String()
		}
	}

	return &Form{
		Method:      method,
		Action:      resolved,
		OffsetField: offsetField,
		Fields:      fields,
	}
}
