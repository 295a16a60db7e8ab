package inventory

import (
	"encoding/csv"
	"encoding/json"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	summaryRunes = 200
	maxEntities  = 100
)

var (
	emailRE = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	urlRE   = regexp.MustCompile(`https?://[^\s"'<>]+`)
)

// summarize returns a leading excerpt of the text with runs of
// whitespace collapsed, so multi-line files read as one line.
func summarize(text string) string {
	excerpt, cut := TruncateRunes(strings.TrimSpace(text), summaryRunes)
	excerpt = strings.Join(strings.Fields(excerpt), " ")
	if cut {
		excerpt += "..."
	}
	return excerpt
}

// extractEntities collects email addresses and URLs, deduplicated in
// order of first appearance and capped at maxEntities.
func extractEntities(text string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, re := range []*regexp.Regexp{emailRE, urlRE} {
		for _, m := range re.FindAllString(text, -1) {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
			if len(out) >= maxEntities {
				return out
			}
		}
	}
	return out
}

// parseStructured attempts a format-aware parse of textual data files.
// JSON yields the decoded value; CSV yields the header row and a row
// count. A failed parse (including one caused by content truncation)
// returns nil, the inventory records it as plain text.
func parseStructured(name, text string) any {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		var v any
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return nil
		}
		return v
	case ".csv", ".tsv":
		r := csv.NewReader(strings.NewReader(text))
		if strings.HasSuffix(strings.ToLower(name), ".tsv") {
			r.Comma = '\t'
		}
		r.FieldsPerRecord = -1
		records, err := r.ReadAll()
		if err != nil || len(records) == 0 {
			return nil
		}
		return map[string]any{
			"headers":   records[0],
			"row_count": len(records) - 1,
		}
	}
	return nil
}
