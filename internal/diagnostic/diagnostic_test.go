package diagnostic

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pumpguard/internal/chatsession"
	"pumpguard/internal/faulttracker"
	"pumpguard/internal/llmclient"
	"pumpguard/internal/retrieval"
	"pumpguard/internal/sample"
)

type fakeProvider struct {
	resp llmclient.ChatResponse
	err  error
	last llmclient.ChatRequest
}

func (f *fakeProvider) Complete(ctx context.Context, req llmclient.ChatRequest) (llmclient.ChatResponse, error) {
	f.last = req
	if f.err != nil {
		return llmclient.ChatResponse{}, f.err
	}
	return f.resp, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{1, 0}
	}
	return out, nil
}

func normalSample() sample.Sample {
	return sample.Sample{
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		IA: 10, IB: 10, IC: 10, IAvg: 10,
		Voltage: 230, Vibration: 1, Pressure: 4, Temperature: 50,
		FaultState: sample.Normal,
	}
}

func emptyIndex() *retrieval.Index { idx, _ := retrieval.Build(context.Background(), "", nil, "", fakeEmbedder{}); return idx }

func TestDiagnose_ComposesPromptAndReturnsDecision(t *testing.T) {
	provider := &fakeProvider{resp: llmclient.ChatResponse{Content: "DIAGNOSIS: ok\nROOT CAUSE: none\nACTION ITEMS: none\nVERIFICATION STEPS: none"}}
	e := New(provider, fakeEmbedder{}, emptyIndex(), "gpt-4o-mini")

	s := normalSample()
	s.Temperature = 95 // critical

	report, err := e.Diagnose(context.Background(), s)
	require.NoError(t, err)
	assert.Contains(t, report.DiagnosisText, "DIAGNOSIS")
	assert.True(t, report.FaultDetected)
	assert.Equal(t, "ImmediateShutdown", string(report.ShutdownDecision.Action))
	assert.Equal(t, "motor overheating causes", anomalyQuery(s))
	assert.Contains(t, provider.last.Messages[0].Content, "temperature: 95.0°C")
}

func TestDiagnose_NormalSampleIsNotFaultDetected(t *testing.T) {
	provider := &fakeProvider{resp: llmclient.ChatResponse{Content: "fine"}}
	e := New(provider, fakeEmbedder{}, emptyIndex(), "gpt-4o-mini")

	report, err := e.Diagnose(context.Background(), normalSample())
	require.NoError(t, err)
	assert.False(t, report.FaultDetected)
	assert.Equal(t, "Normal troubleshooting diagnosis", anomalyQuery(normalSample()))
	assert.Contains(t, provider.last.Messages[0].Content, "fault_state: Normal")
}

func TestDiagnose_LLMFailureIsLLMUnavailable(t *testing.T) {
	provider := &fakeProvider{err: errors.New("timeout")}
	e := New(provider, fakeEmbedder{}, emptyIndex(), "gpt-4o-mini")

	_, err := e.Diagnose(context.Background(), normalSample())
	assert.Error(t, err)
}

func TestAsk_EmptyQuestionIsInvalidInput(t *testing.T) {
	e := New(&fakeProvider{}, fakeEmbedder{}, emptyIndex(), "gpt-4o-mini")
	_, err := e.Ask(context.Background(), "", nil, nil, nil)
	assert.Error(t, err)
}

func TestAsk_IncludesHistorySampleAndFaultContext(t *testing.T) {
	provider := &fakeProvider{resp: llmclient.ChatResponse{Content: "do X"}}
	e := New(provider, fakeEmbedder{}, emptyIndex(), "gpt-4o-mini")

	s := normalSample()
	fc := &faulttracker.Context{FaultState: sample.Cavitation, FaultStartTime: s.Timestamp, FaultStartSnapshot: s}
	history := []chatsession.Entry{{Role: "user", Content: "earlier question"}}

	reply, err := e.Ask(context.Background(), "what should I check?", &s, fc, history)
	require.NoError(t, err)
	assert.Equal(t, "do X", reply)
	assert.Contains(t, provider.last.Messages[0].Content, "earlier question")
	assert.Contains(t, provider.last.Messages[0].Content, "Fault began at")
}

func TestAsk_ScrubsFullReportIntoActionBullets(t *testing.T) {
	full := "DIAGNOSIS: bearing wear\nROOT CAUSE: lubrication\n" +
		"ACTION ITEMS:\n- replace bearing\n- check lubrication\n" +
		"VERIFICATION STEPS:\n- run pump 10 min\n- measure vibration"
	provider := &fakeProvider{resp: llmclient.ChatResponse{Content: full}}
	e := New(provider, fakeEmbedder{}, emptyIndex(), "gpt-4o-mini")

	reply, err := e.Ask(context.Background(), "what should I do now?", nil, nil, nil)
	require.NoError(t, err)
	assert.Contains(t, reply, "What to do now:")
	assert.Contains(t, reply, "- replace bearing")
	assert.Contains(t, reply, "- run pump 10 min")
	assert.NotContains(t, reply, "ROOT CAUSE")
}

func TestAsk_ScrubsToFrenchTitleForFrenchQuestion(t *testing.T) {
	full := "DIAGNOSIS: x\nROOT CAUSE: y\nACTION ITEMS:\n- verifier le palier\nVERIFICATION STEPS:\n- mesurer la vibration"
	provider := &fakeProvider{resp: llmclient.ChatResponse{Content: full}}
	e := New(provider, fakeEmbedder{}, emptyIndex(), "gpt-4o-mini")

	reply, err := e.Ask(context.Background(), "comment régler ce problème ?", nil, nil, nil)
	require.NoError(t, err)
	assert.Contains(t, reply, "À faire maintenant:")
}

func TestChecklist_ParsesNumberedStepsWithCriticalMarkerAndIcons(t *testing.T) {
	raw := "1. [CRITICAL] Cut power immediately\n" +
		"2. Measure bearing temperature\n" +
		"3. Replace the bearing\n" +
		"not a step line\n" +
		"4. Restart the pump"
	provider := &fakeProvider{resp: llmclient.ChatResponse{Content: raw}}
	e := New(provider, fakeEmbedder{}, emptyIndex(), "gpt-4o-mini")

	steps, err := e.Checklist(context.Background(), sample.BearingWear, nil, "")
	require.NoError(t, err)
	require.Len(t, steps, 4)

	assert.True(t, steps[0].Critical)
	assert.Equal(t, "⚡", steps[0].Icon)
	assert.NotContains(t, steps[0].Label, "[CRITICAL]")

	assert.False(t, steps[1].Critical)
	assert.Equal(t, "🌡️", steps[1].Icon)

	assert.Equal(t, "🔧", steps[2].Icon)
	assert.Equal(t, "▶️", steps[3].Icon)

	for i, s := range steps {
		assert.Equal(t, i+1, s.ID)
	}
}

func TestChecklist_UnknownKeywordsGetDefaultIcon(t *testing.T) {
	provider := &fakeProvider{resp: llmclient.ChatResponse{Content: "1. Inspect the coupling alignment"}}
	e := New(provider, fakeEmbedder{}, emptyIndex(), "gpt-4o-mini")

	steps, err := e.Checklist(context.Background(), sample.Overload, nil, "")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, defaultIcon, steps[0].Icon)
}

func TestChecklist_LLMFailureIsError(t *testing.T) {
	provider := &fakeProvider{err: errors.New("down")}
	e := New(provider, fakeEmbedder{}, emptyIndex(), "gpt-4o-mini")
	_, err := e.Checklist(context.Background(), sample.Overload, nil, "")
	assert.Error(t, err)
}

func TestAnomalyQuery_PrioritizesImbalanceOverOthers(t *testing.T) {
	s := normalSample()
	s.ImbalancePct = 10
	s.Vibration = 8
	assert.Equal(t, "motor winding defect phase imbalance cavitation high vibration", anomalyQuery(s))
}

func TestAnomalyQuery_BearingWearRangeIsExclusiveOfCavitation(t *testing.T) {
	s := normalSample()
	s.Vibration = 4
	assert.Equal(t, "bearing wear diagnosis", anomalyQuery(s))
}
