package pipeline

import (
	"regexp"
	"strings"
)

// The structured analysis response is line oriented:
//
//	DETAILED EXPLANATION:
//	<free text>
//	SUMMARY:
//	<free text>
//	METADATA:
//	Document Type: Contract
//	Risk Factors: auto-renewal; early termination fee
//
// Headers are matched case-insensitively and may carry markdown emphasis
// ("## Summary:", "**SUMMARY**:"). Text after the colon on a header line
// belongs to that section. A response without a non-empty summary section is
// unparsed.

type ParseStatus int

const (
	Unparsed ParseStatus = iota
	Parsed
)

const (
	sectionDetailed = "DETAILED EXPLANATION"
	sectionSummary  = "SUMMARY"
	sectionMetadata = "METADATA"
)

var headerPattern = regexp.MustCompile(`(?i)^[#*_\s]*(detailed explanation|summary|metadata)[*_\s]*:[*_\s]*(.*)$`)

// Sections holds the parts of a parsed response. Metadata keys are
// normalized: lowercase with spaces, dashes and underscores removed.
type Sections struct {
	DetailedExplanation string
	Summary             string
	Metadata            map[string]string
}

// ParseResult is Parsed with Sections filled, or Unparsed with Raw only.
type ParseResult struct {
	Status   ParseStatus
	Sections Sections
	Raw      string
}

func (r ParseResult) OK() bool { return r.Status == Parsed }

// ParseAnalysis parses a structured analysis response. It never fails;
// malformed input comes back Unparsed.
func ParseAnalysis(text string) ParseResult {
	raw := strings.TrimSpace(text)
	result := ParseResult{Status: Unparsed, Raw: raw}
	if raw == "" {
		return result
	}

	bodies := map[string]*strings.Builder{}
	var current *strings.Builder
	for _, line := range strings.Split(stripFences(raw), "\n") {
		if m := headerPattern.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			name := strings.ToUpper(m[1])
			b, ok := bodies[name]
			if !ok {
				b = &strings.Builder{}
				bodies[name] = b
			}
			current = b
			if rest := strings.TrimSpace(m[2]); rest != "" {
				appendLine(current, rest)
			}
			continue
		}
		if current != nil {
			appendLine(current, line)
		}
	}

	summary := sectionText(bodies, sectionSummary)
	if summary == "" {
		return result
	}
	result.Status = Parsed
	result.Sections = Sections{
		DetailedExplanation: sectionText(bodies, sectionDetailed),
		Summary:             summary,
		Metadata:            parseMetadata(sectionText(bodies, sectionMetadata)),
	}
	return result
}

func appendLine(b *strings.Builder, line string) {
	if b.Len() > 0 {
		b.WriteByte('\n')
	}
	b.WriteString(strings.TrimRight(line, " \t\r"))
}

func sectionText(bodies map[string]*strings.Builder, name string) string {
	b, ok := bodies[name]
	if !ok {
		return ""
	}
	return strings.TrimSpace(b.String())
}

func stripFences(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "```") {
			continue
		}
		kept = append(kept, l)
	}
	return strings.Join(kept, "\n")
}

func parseMetadata(body string) map[string]string {
	meta := map[string]string{}
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*•"))
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = normalizeKey(key)
		value = strings.Trim(strings.TrimSpace(value), "*_")
		if key == "" || value == "" {
			continue
		}
		meta[key] = strings.TrimSpace(value)
	}
	return meta
}

func normalizeKey(key string) string {
	key = strings.ToLower(strings.Trim(strings.TrimSpace(key), "*_"))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(key)
}

// splitList splits a metadata list value on ";" when present, else on ",".
func splitList(value string) []string {
	sep := ","
	if strings.Contains(value, ";") {
		sep = ";"
	}
	var out []string
	for _, item := range strings.Split(value, sep) {
		item = strings.TrimSpace(item)
		switch strings.ToLower(item) {
		case "", "none", "n/a", "na", "unknown", "-":
			continue
		}
		out = append(out, item)
	}
	return out
}
