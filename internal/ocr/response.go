package ocr

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

type page struct {
	Index    *int   `json:"index"`
	Text     string `json:"text"`
	Markdown string `json:"markdown"`
}

type response struct {
	Pages     []page `json:"pages"`
	Text      string `json:"text"`
	Markdown  string `json:"markdown"`
	UsageInfo struct {
		PagesProcessed int `json:"pages_processed"`
	} `json:"usage_info"`
}

// pageSeparator joins per-page segments.
const pageSeparator = "\n\n"

// ParseResponse extracts text from an OCR reply. Per-page segments win when
// any of them has content; they are joined in page order. Otherwise the flat
// text field is used, then the flat markdown field.
func ParseResponse(body []byte) (Result, error) {
	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	pages := append([]page(nil), r.Pages...)
	// Pages without an index go after the indexed ones, in reply order.
	sort.SliceStable(pages, func(i, j int) bool {
		a, b := pages[i].Index, pages[j].Index
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return *a < *b
	})
	segments := make([]string, 0, len(pages))
	for _, p := range pages {
		s := p.Text
		if strings.TrimSpace(s) == "" {
			s = p.Markdown
		}
		if strings.TrimSpace(s) != "" {
			segments = append(segments, s)
		}
	}
	count := r.UsageInfo.PagesProcessed
	if count == 0 {
		count = len(r.Pages)
	}
	if len(segments) > 0 {
		return Result{Text: strings.Join(segments, pageSeparator), Pages: count}, nil
	}
	for _, s := range []string{r.Text, r.Markdown} {
		if strings.TrimSpace(s) != "" {
			return Result{Text: s, Pages: count}, nil
		}
	}
	return Result{Pages: count}, nil
}

const maxSummary = 1000

// summarizeError condenses an error body: FastAPI-style "detail" lists become
// "loc.path: msg" pairs, embedded "file" payloads are dropped, and the result
// is truncated.
func summarizeError(body []byte) string {
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return truncate(strings.TrimSpace(string(body)))
	}
	scrubFiles(data)
	if m, ok := data.(map[string]any); ok {
		if details, ok := m["detail"].([]any); ok {
			parts := make([]string, 0, len(details))
			for _, d := range details {
				item, ok := d.(map[string]any)
				if !ok {
					continue
				}
				msg, _ := item["msg"].(string)
				if msg == "" {
					continue
				}
				if loc, ok := item["loc"].([]any); ok && len(loc) > 0 {
					path := make([]string, 0, len(loc))
					for _, l := range loc {
						path = append(path, fmt.Sprint(l))
					}
					parts = append(parts, strings.Join(path, ".")+": "+msg)
					continue
				}
				parts = append(parts, msg)
			}
			if len(parts) > 0 {
				return truncate(strings.Join(parts, "; "))
			}
		}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	return truncate(string(b))
}

func scrubFiles(data any) {
	switch v := data.(type) {
	case map[string]any:
		delete(v, "file")
		for _, child := range v {
			scrubFiles(child)
		}
	case []any:
		for _, child := range v {
			scrubFiles(child)
		}
	}
}

// truncate keeps the first maxSummary characters.
func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxSummary {
		return s
	}
	return string([]rune(s)[:maxSummary]) + "... [truncated]"
}
