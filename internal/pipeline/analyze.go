package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"docsense/internal/model"
)

const (
	DefaultMaxAnalysisChars = 120000
	DefaultRegion           = "us-central1"

	defaultTemperature     = 0.2
	defaultMaxOutputTokens = 1200
	defaultAnalysisTimeout = 90 * time.Second
	maxMetadataListItems   = 3
	unknownValue           = "unknown"
)

var ErrNoModelOutput = errors.New("no model candidate produced output")

var fallbackRegions = []string{"us-central1", "us-east1"}

var fallbackModels = []string{
	"gemini-2.5-flash-lite-001",
	"gemini-2.5-flash-lite",
	"gemini-1.5-pro-002",
	"gemini-1.5-pro-001",
	"gemini-1.5-flash-002",
	"gemini-1.5-flash-001",
	"gemini-1.0-pro",
}

var supportedRegions = map[string]bool{
	"africa-south1": true, "asia-east1": true, "asia-east2": true, "asia-northeast1": true,
	"asia-northeast2": true, "asia-northeast3": true, "asia-south1": true, "asia-south2": true,
	"asia-southeast1": true, "asia-southeast2": true, "australia-southeast1": true,
	"australia-southeast2": true, "europe-central2": true, "europe-north1": true,
	"europe-southwest1": true, "europe-west1": true, "europe-west12": true, "europe-west2": true,
	"europe-west3": true, "europe-west4": true, "europe-west6": true, "europe-west8": true,
	"europe-west9": true, "global": true, "me-central1": true, "me-central2": true, "me-west1": true,
	"northamerica-northeast1": true, "northamerica-northeast2": true, "southamerica-east1": true,
	"southamerica-west1": true, "us-central1": true, "us-east1": true, "us-east4": true,
	"us-east5": true, "us-east7": true, "us-south1": true, "us-west1": true, "us-west2": true,
	"us-west3": true, "us-west4": true,
}

// GenerationParams are passed to every model call.
type GenerationParams struct {
	Temperature     float32
	MaxOutputTokens int32
}

// ResponseCandidate is one generated alternative, split into text parts.
type ResponseCandidate struct {
	Parts []string
}

// GenerationResponse carries whichever shape the engine returned: a
// top-level text, candidates with parts, or both.
type GenerationResponse struct {
	Text       string
	Candidates []ResponseCandidate
}

// ModelClient generates text with a named model in one region.
type ModelClient interface {
	Generate(ctx context.Context, model, prompt string, params GenerationParams) (*GenerationResponse, error)
}

// ModelProvider returns a client bound to region. An error means the region
// cannot be used at all.
type ModelProvider interface {
	Client(ctx context.Context, region string) (ModelClient, error)
}

type AnalyzerConfig struct {
	Region          string
	Model           string
	PlainSummary    bool
	Temperature     float32
	MaxOutputTokens int32
	Timeout         time.Duration
	MaxInputChars   int
}

// CandidatePair is one (region, model) option, in attempt order.
type CandidatePair struct {
	Region string
	Model  string
}

// Analysis is the outcome of the analysis stage. Degraded analyses carry a
// computed summary instead of model output.
type Analysis struct {
	Summary             string
	DetailedExplanation string
	Metadata            model.DocumentMetadata
	Degraded            bool
}

// Analyzer summarizes extracted text across an ordered list of region and
// model candidates.
type Analyzer struct {
	provider ModelProvider
	cfg      AnalyzerConfig
	regions  []string
	models   []string
}

func NewAnalyzer(provider ModelProvider, cfg AnalyzerConfig) *Analyzer {
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = defaultMaxOutputTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultAnalysisTimeout
	}
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = DefaultMaxAnalysisChars
	}
	return &Analyzer{
		provider: provider,
		cfg:      cfg,
		regions:  regionCandidates(cfg.Region),
		models:   modelCandidates(cfg.Model),
	}
}

// Candidates lists every (region, model) pair in the order they are tried.
func (a *Analyzer) Candidates() []CandidatePair {
	pairs := make([]CandidatePair, 0, len(a.regions)*len(a.models))
	for _, r := range a.regions {
		for _, m := range a.models {
			pairs = append(pairs, CandidatePair{Region: r, Model: m})
		}
	}
	return pairs
}

// Analyze never fails: when no candidate answers, or the answer cannot be
// parsed, the result is degraded to a word and character count summary.
// pageCount is the OCR page count, 0 when unknown.
func (a *Analyzer) Analyze(ctx context.Context, text string, pageCount int) Analysis {
	text = strings.TrimSpace(text)
	input, truncated := truncateRunes(text, a.cfg.MaxInputChars)
	base := model.DocumentMetadata{
		DocumentType:   unknownValue,
		Complexity:     unknownValue,
		RiskLevel:      unknownValue,
		RiskFactors:    []string{},
		KeyParties:     []string{},
		WordCount:      len(strings.Fields(text)),
		PageCount:      unknownValue,
		InputTruncated: truncated,
		AnalyzedChars:  len([]rune(input)),
	}
	if pageCount > 0 {
		base.PageCount = strconv.Itoa(pageCount)
	}
	if text == "" {
		return a.degraded(text, "", base, truncated)
	}

	prompt := structuredPrompt(input)
	if a.cfg.PlainSummary {
		prompt = plainPrompt(input)
	}

	out, pair, err := a.generate(ctx, prompt)
	if err != nil {
		logrus.WithError(err).Warn("analysis unavailable, storing computed summary")
		return a.degraded(text, "", base, truncated)
	}
	base.Region = pair.Region
	base.Model = pair.Model

	if a.cfg.PlainSummary {
		return Analysis{
			Summary:             out,
			DetailedExplanation: truncationNote("", truncated, base.AnalyzedChars, text),
			Metadata:            base,
		}
	}

	parsed := ParseAnalysis(out)
	if !parsed.OK() {
		logrus.WithFields(logrus.Fields{"region": pair.Region, "model": pair.Model}).
			Warn("analysis response had no recognizable sections")
		return a.degraded(text, parsed.Raw, base, truncated)
	}
	return Analysis{
		Summary:             parsed.Sections.Summary,
		DetailedExplanation: truncationNote(parsed.Sections.DetailedExplanation, truncated, base.AnalyzedChars, text),
		Metadata:            applyMetadata(base, parsed.Sections.Metadata, pageCount),
	}
}

func (a *Analyzer) degraded(text, raw string, meta model.DocumentMetadata, truncated bool) Analysis {
	meta.AnalysisDegraded = true
	return Analysis{
		Summary:             FallbackSummary(text),
		DetailedExplanation: truncationNote(raw, truncated, meta.AnalyzedChars, text),
		Metadata:            meta,
		Degraded:            true,
	}
}

func (a *Analyzer) generate(ctx context.Context, prompt string) (string, CandidatePair, error) {
	if a.provider == nil {
		return "", CandidatePair{}, errors.New("no model provider configured")
	}
	params := GenerationParams{Temperature: a.cfg.Temperature, MaxOutputTokens: a.cfg.MaxOutputTokens}

	var lastErr error
	for _, region := range a.regions {
		client, err := a.provider.Client(ctx, region)
		if err != nil {
			logrus.WithError(err).WithField("region", region).Warn("model region unavailable")
			lastErr = err
			continue
		}
		for _, name := range a.models {
			if ctx.Err() != nil {
				return "", CandidatePair{}, ctx.Err()
			}
			log := logrus.WithFields(logrus.Fields{"region": region, "model": name})

			callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
			resp, err := client.Generate(callCtx, name, prompt, params)
			cancel()
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					log.Warn("model call timed out")
				} else {
					log.WithError(err).Debug("model call failed")
				}
				lastErr = err
				continue
			}
			if out := responseText(resp); out != "" {
				log.Info("analysis generated")
				return out, CandidatePair{Region: region, Model: name}, nil
			}
			lastErr = ErrNoModelOutput
		}
	}
	if lastErr == nil {
		lastErr = ErrNoModelOutput
	}
	return "", CandidatePair{}, lastErr
}

// responseText prefers the top-level text, then the first candidate whose
// parts join into non-empty text.
func responseText(resp *GenerationResponse) string {
	if resp == nil {
		return ""
	}
	if t := strings.TrimSpace(resp.Text); t != "" {
		return t
	}
	for _, c := range resp.Candidates {
		if t := strings.TrimSpace(strings.Join(c.Parts, "")); t != "" {
			return t
		}
	}
	return ""
}

// FallbackSummary describes text by its size when no model output is usable.
func FallbackSummary(text string) string {
	return fmt.Sprintf("Document Summary: This document contains %d words and %d characters. "+
		"AI analysis is currently unavailable, but the document has been successfully processed and stored. "+
		"You can view the full extracted text in the document view.",
		len(strings.Fields(text)), len([]rune(text)))
}

func applyMetadata(meta model.DocumentMetadata, fields map[string]string, pageCount int) model.DocumentMetadata {
	if v := firstField(fields, "documenttype", "type"); v != "" {
		meta.DocumentType = v
	}
	if v := firstField(fields, "complexity"); v != "" {
		meta.Complexity = v
	}
	if v := firstField(fields, "risklevel", "risk"); v != "" {
		meta.RiskLevel = v
	}
	if v := firstField(fields, "riskfactors", "risks"); v != "" {
		meta.RiskFactors = capList(splitList(v))
	}
	if v := firstField(fields, "keyparties", "parties"); v != "" {
		meta.KeyParties = capList(splitList(v))
	}
	if pageCount <= 0 {
		if v := firstField(fields, "pagecount", "pages"); v != "" {
			meta.PageCount = v
		}
	}
	return meta
}

func firstField(fields map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(fields[k]); v != "" && !strings.EqualFold(v, unknownValue) {
			return v
		}
	}
	return ""
}

func capList(items []string) []string {
	if items == nil {
		return []string{}
	}
	if len(items) > maxMetadataListItems {
		return items[:maxMetadataListItems]
	}
	return items
}

func truncateRunes(text string, limit int) (string, bool) {
	runes := []rune(text)
	if len(runes) <= limit {
		return text, false
	}
	return string(runes[:limit]), true
}

func truncationNote(body string, truncated bool, analyzed int, full string) string {
	if !truncated {
		return body
	}
	note := fmt.Sprintf("Note: the document has %d characters; only the first %d were analyzed.",
		len([]rune(full)), analyzed)
	if body == "" {
		return note
	}
	return body + "\n\n" + note
}

// NormalizeRegion maps shorthand and unsupported locations onto a usable
// model region.
func NormalizeRegion(region string) string {
	region = strings.ToLower(strings.TrimSpace(region))
	switch region {
	case "":
		return DefaultRegion
	case "us":
		return "us-central1"
	case "eu":
		return "europe-west4"
	}
	if !supportedRegions[region] {
		return DefaultRegion
	}
	return region
}

func regionCandidates(configured string) []string {
	return dedupe(append([]string{NormalizeRegion(configured)}, fallbackRegions...))
}

func modelCandidates(configured string) []string {
	list := make([]string, 0, len(fallbackModels)+1)
	if m := strings.TrimSpace(configured); m != "" {
		list = append(list, m)
	}
	return dedupe(append(list, fallbackModels...))
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it == "" || seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	return out
}

func structuredPrompt(text string) string {
	return "You are a legal explainer. Analyze the following extracted document text for a layperson.\n" +
		"Respond using exactly these section headers, each on its own line:\n\n" +
		"DETAILED EXPLANATION:\n" +
		"<key obligations, risks and red flags, termination / renewal / penalty clauses>\n" +
		"SUMMARY:\n" +
		"<2-3 sentence overview of the document>\n" +
		"METADATA:\n" +
		"Document Type: <Contract/Agreement/Policy/Legal Brief/Court Document/Other>\n" +
		"Complexity: <Simple/Moderate/Complex>\n" +
		"Risk Level: <Low/Medium/High>\n" +
		"Risk Factors: <up to 3, separated by semicolons>\n" +
		"Key Parties: <up to 3, separated by semicolons>\n" +
		"Page Count: <estimated number of pages>\n\n" +
		"Text:\n" + text
}

func plainPrompt(text string) string {
	return "You are a legal explainer. Summarize the following extracted contract text for a layperson.\n" +
		"Return:\n" +
		"- 5 bullet executive summary\n" +
		"- Key obligations of the user\n" +
		"- Key risks and red flags\n" +
		"- Termination / renewal / penalty clauses (if present)\n\n" +
		"Text:\n" + text
}
