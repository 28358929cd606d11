// Package diagnostic composes deterministic prompts from a Sample, the
// retrieval index, and chat history, and delegates text generation to the
// LLM client. See spec.md §4.6.
package diagnostic

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"pumpguard/internal/apierr"
	"pumpguard/internal/chatsession"
	"pumpguard/internal/faulttracker"
	"pumpguard/internal/llmclient"
	"pumpguard/internal/retrieval"
	"pumpguard/internal/safety"
	"pumpguard/internal/sample"
	"pumpguard/internal/telemetry/metrics"
)

const rolePreamble = "You are a senior maintenance engineer for industrial centrifugal pumps. Be precise, safety-first, and concrete."

// Reference is a single citation returned alongside a diagnosis.
type Reference struct {
	Page  int     `json:"page"`
	Score float64 `json:"score"`
}

// Report is the structured result of diagnose.
type Report struct {
	DiagnosisText    string          `json:"diagnosis_text"`
	ShutdownDecision safety.Decision `json:"shutdown_decision"`
	References       []Reference     `json:"references"`
	FaultDetected    bool            `json:"fault_detected"`
}

// Step is a single checklist item.
type Step struct {
	ID       int    `json:"id"`
	Label    string `json:"label"`
	Icon     string `json:"icon"`
	Critical bool   `json:"critical"`
}

// Engine composes prompts and delegates generation to an llmclient.Provider,
// retrieving context from a retrieval.Index via an llmclient.Embedder.
type Engine struct {
	llm      llmclient.Provider
	embedder llmclient.Embedder
	index    atomic.Pointer[retrieval.Index]
	model    string

	llmLatency          metrics.Histogram
	safetyClassification metrics.Counter
}

// New constructs a DiagnosticEngine with no-op metrics; call WithMetrics to
// attach a real provider.
func New(llm llmclient.Provider, embedder llmclient.Embedder, index *retrieval.Index, model string) *Engine {
	noop := metrics.NewNoopProvider()
	e := &Engine{
		llm: llm, embedder: embedder, model: model,
		llmLatency:           noop.NewHistogram(metrics.HistogramOpts{}),
		safetyClassification: noop.NewCounter(metrics.CounterOpts{}),
	}
	e.index.Store(index)
	return e
}

// ReplaceIndex atomically swaps the retrieval index used by subsequent
// Diagnose/Ask/Checklist calls, so an operator-rebuilt index on disk can be
// picked up without restarting the service or blocking in-flight queries.
func (e *Engine) ReplaceIndex(idx *retrieval.Index) {
	e.index.Store(idx)
}

// WithMetrics attaches a metrics.Provider tracking LLM call latency (by
// operation) and safety classification counts, returning e for chaining at
// construction time.
func (e *Engine) WithMetrics(p metrics.Provider) *Engine {
	e.llmLatency = p.NewHistogram(metrics.HistogramOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "pumpguard", Subsystem: "diagnostic", Name: "llm_call_seconds", Help: "LLM completion latency in seconds.",
		Labels: []string{"operation"},
	}})
	e.safetyClassification = p.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "pumpguard", Subsystem: "diagnostic", Name: "safety_classifications_total", Help: "Count of safety decisions by urgency.",
		Labels: []string{"urgency"},
	}})
	return e
}

// complete runs an LLM request while recording per-operation call latency.
func (e *Engine) complete(ctx context.Context, operation string, req llmclient.ChatRequest) (llmclient.ChatResponse, error) {
	start := time.Now()
	resp, err := e.llm.Complete(ctx, req)
	e.llmLatency.Observe(time.Since(start).Seconds(), operation)
	return resp, err
}

// Diagnose implements spec.md §4.6.1.
func (e *Engine) Diagnose(ctx context.Context, s sample.Sample) (Report, error) {
	decision := safety.Evaluate(s)
	e.safetyClassification.Inc(1, string(decision.Urgency))

	query := anomalyQuery(s)
	results, _ := e.index.Load().Query(ctx, query, 3, e.embedder) // RetrievalUnavailable degrades to empty context

	prompt := rolePreamble + "\n\n" +
		renderSample(s) + "\n\n" +
		renderChunks(results) + "\n\n" +
		"Respond with exactly four sections, in order, each on its own line starting with the header: " +
		"DIAGNOSIS, ROOT CAUSE, ACTION ITEMS, VERIFICATION STEPS."

	resp, err := e.complete(ctx, "diagnose", llmclient.ChatRequest{
		Model:       e.model,
		Messages:    []llmclient.Message{{Role: "user", Content: prompt}},
		Temperature: 0.2,
	})
	if err != nil {
		return Report{}, apierr.Wrap(apierr.LLMUnavailable, "diagnose generation failed", err)
	}

	refs := make([]Reference, len(results))
	for i, r := range results {
		refs[i] = Reference{Page: r.OrdinalPage, Score: r.Score}
	}

	return Report{
		DiagnosisText:    resp.Content,
		ShutdownDecision: decision,
		References:       refs,
		FaultDetected:    decision.Urgency != safety.Ok,
	}, nil
}

// anomalyQuery implements the ordered anomaly-to-keyword mapping of
// spec.md §4.6.1, falling back to a generic query when nothing is anomalous.
func anomalyQuery(s sample.Sample) string {
	var fragments []string
	if s.ImbalancePct > 5 {
		fragments = append(fragments, "motor winding defect phase imbalance")
	}
	if s.Voltage < 207 {
		fragments = append(fragments, "voltage supply fault low voltage")
	}
	if s.Vibration > 5 {
		fragments = append(fragments, "cavitation high vibration")
	}
	if s.Temperature > 80 {
		fragments = append(fragments, "motor overheating causes")
	}
	if s.Vibration > 3 && s.Vibration <= 5 {
		fragments = append(fragments, "bearing wear diagnosis")
	}
	if len(fragments) == 0 {
		return fmt.Sprintf("%s troubleshooting diagnosis", s.FaultState)
	}
	return strings.Join(fragments, " ")
}

func renderSample(s sample.Sample) string {
	return fmt.Sprintf(
		"Current sensor reading:\n"+
			"  timestamp: %s\n"+
			"  fault_state: %s (duration %ds)\n"+
			"  currents: I_a=%.2fA I_b=%.2fA I_c=%.2fA (avg=%.2fA, imbalance=%.1f%%)\n"+
			"  voltage: %.1fV, vibration: %.2fmm/s, pressure: %.2fbar, temperature: %.1f°C",
		s.Timestamp.Format("2006-01-02T15:04:05Z"), s.FaultState, s.FaultDurationS,
		s.IA, s.IB, s.IC, s.IAvg, s.ImbalancePct,
		s.Voltage, s.Vibration, s.Pressure, s.Temperature,
	)
}

func renderChunks(results []retrieval.Result) string {
	if len(results) == 0 {
		return "Retrieved context: (none available)"
	}
	var b strings.Builder
	b.WriteString("Retrieved context:\n")
	for _, r := range results {
		fmt.Fprintf(&b, "  [p.%d, score=%.3f] %s\n", r.OrdinalPage, r.Score, r.Content)
	}
	return b.String()
}

// Ask implements spec.md §4.6.2.
func (e *Engine) Ask(ctx context.Context, question string, s *sample.Sample, faultCtx *faulttracker.Context, history []chatsession.Entry) (string, error) {
	if question == "" {
		return "", apierr.New(apierr.InvalidInput, "question must not be empty")
	}

	results, _ := e.index.Load().Query(ctx, question, 3, e.embedder)

	var b strings.Builder
	b.WriteString(rolePreamble)
	b.WriteString("\n\n")
	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, h := range lastN(history, 20) {
			fmt.Fprintf(&b, "  %s: %s\n", h.Role, h.Content)
		}
		b.WriteString("\n")
	}
	if s != nil {
		b.WriteString(renderSample(*s))
		b.WriteString("\n\n")
	}
	if faultCtx != nil {
		fmt.Fprintf(&b, "Fault began at %s, captured as:\n%s\n\n", faultCtx.FaultStartTime.Format("2006-01-02T15:04:05Z"), renderSample(faultCtx.FaultStartSnapshot))
	}
	b.WriteString(renderChunks(results))
	b.WriteString("\n\n")
	b.WriteString("Question: " + question + "\n")
	b.WriteString("Reply in the same language as the question. Give a direct answer as 4-8 bullet points. No full report headers.")

	resp, err := e.complete(ctx, "ask", llmclient.ChatRequest{
		Model:       e.model,
		Messages:    []llmclient.Message{{Role: "user", Content: b.String()}},
		Temperature: 0.3,
	})
	if err != nil {
		return "", apierr.Wrap(apierr.LLMUnavailable, "ask generation failed", err)
	}

	return postProcessAsk(resp.Content, question), nil
}

func lastN(entries []chatsession.Entry, n int) []chatsession.Entry {
	if len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}

var sectionHeaders = []string{"DIAGNOSIS", "ROOT CAUSE", "ACTION ITEMS", "VERIFICATION STEPS"}

var frenchActionMarkers = []string{"comment", "régler", "regler"}

// postProcessAsk strips a full diagnostic report down to its actionable
// bullets when the model ignores the "no full report headers" directive,
// per spec.md §4.6.2.
func postProcessAsk(reply, question string) string {
	hasHeader := false
	for _, h := range sectionHeaders {
		if strings.Contains(reply, h) {
			hasHeader = true
			break
		}
	}
	if !hasHeader {
		return reply
	}

	actionItems := extractSection(reply, "ACTION ITEMS", "VERIFICATION STEPS")
	verification := extractSection(reply, "VERIFICATION STEPS", "")
	bullets := append(actionItems, verification...)
	if len(bullets) == 0 {
		return reply
	}

	title := "What to do now:"
	lowerQ := strings.ToLower(question)
	for _, marker := range frenchActionMarkers {
		if strings.Contains(lowerQ, marker) {
			title = "À faire maintenant:"
			break
		}
	}

	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n")
	for _, line := range bullets {
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// extractSection returns the bullet lines between a section header and the
// next known header (or end of text if next == "").
func extractSection(text, header, next string) []string {
	idx := strings.Index(text, header)
	if idx < 0 {
		return nil
	}
	rest := text[idx+len(header):]
	if next != "" {
		if nidx := strings.Index(rest, next); nidx >= 0 {
			rest = rest[:nidx]
		}
	}
	var lines []string
	for _, line := range strings.Split(rest, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*") || strings.HasPrefix(line, "•") {
			lines = append(lines, line)
		}
	}
	return lines
}

var numberedItemRe = regexp.MustCompile(`^\s*(\d+)[.)]\s*(.*)$`)

var iconTable = []struct {
	keywords []string
	icon     string
}{
	{[]string{"power", "voltage"}, "⚡"},
	{[]string{"temperature"}, "🌡️"},
	{[]string{"measure", "test"}, "📊"},
	{[]string{"winding", "replace"}, "🔧"},
	{[]string{"bearing"}, "⚙️"},
	{[]string{"vibration"}, "📳"},
	{[]string{"pressure", "flow"}, "💧"},
	{[]string{"restart", "start"}, "▶️"},
}

const defaultIcon = "📋"

// Checklist implements spec.md §4.6.3.
func (e *Engine) Checklist(ctx context.Context, faultType sample.FaultState, s *sample.Sample, diagnosis string) ([]Step, error) {
	query := fmt.Sprintf("%s repair steps troubleshooting procedure", humanize(faultType))
	results, _ := e.index.Load().Query(ctx, query, 4, e.embedder)

	var b strings.Builder
	b.WriteString(rolePreamble)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Fault: %s\n\n", faultType)
	if s != nil {
		b.WriteString(renderSample(*s))
		b.WriteString("\n\n")
	}
	if diagnosis != "" {
		fmt.Fprintf(&b, "Prior diagnosis:\n%s\n\n", diagnosis)
	}
	b.WriteString(renderChunks(results))
	b.WriteString("\n\n")
	b.WriteString("Produce a numbered list of 5 to 7 repair steps. Each item starts with an imperative verb, is at most 10 words, " +
		"and items that are safety-critical are marked with [CRITICAL] immediately after the number.")

	resp, err := e.complete(ctx, "checklist", llmclient.ChatRequest{
		Model:       e.model,
		Messages:    []llmclient.Message{{Role: "user", Content: b.String()}},
		Temperature: 0.2,
	})
	if err != nil {
		return nil, apierr.Wrap(apierr.LLMUnavailable, "checklist generation failed", err)
	}

	return parseChecklist(resp.Content), nil
}

func humanize(fs sample.FaultState) string {
	var b strings.Builder
	for i, r := range string(fs) {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}

// parseChecklist parses a numbered list into Steps, per spec.md §4.6.3:
// strip numbering, detect/remove the [CRITICAL] marker, assign an icon by
// keyword match.
func parseChecklist(text string) []Step {
	var steps []Step
	id := 0
	for _, line := range strings.Split(text, "\n") {
		m := numberedItemRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		label := strings.TrimSpace(m[2])
		critical := false
		if strings.Contains(label, "[CRITICAL]") {
			critical = true
			label = strings.TrimSpace(strings.ReplaceAll(label, "[CRITICAL]", ""))
		}
		id++
		steps = append(steps, Step{ID: id, Label: label, Icon: iconFor(label), Critical: critical})
	}
	return steps
}

func iconFor(label string) string {
	lower := strings.ToLower(label)
	for _, entry := range iconTable {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return entry.icon
			}
		}
	}
	return defaultIcon
}
