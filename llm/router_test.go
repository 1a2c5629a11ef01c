package llm

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usephedm/aurora-pro-ai/core"
)

type stubProvider struct {
	name   string
	family Family
	text   string
	err    error
	delay  time.Duration
}

func (s *stubProvider) Name() string  { return s.name }
func (s *stubProvider) Family() Family { return s.family }

func (s *stubProvider) Generate(ctx context.Context, req Request) (Response, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return Response{}, s.err
	}
	return Response{Provider: s.name, Text: s.text, Timestamp: time.Now().UTC()}, nil
}

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "stats.json"), &core.NoOpLogger{}, nil, nil)
}

func TestSelectReturnsFirstHealthyPreference(t *testing.T) {
	r := newTestRouter(t)
	r.Register(ProviderSpec{Name: "primary", Family: FamilyAnthropic}, &stubProvider{name: "primary", family: FamilyAnthropic, text: "ok"})
	r.Register(ProviderSpec{Name: "secondary", Family: FamilyOpenAI}, &stubProvider{name: "secondary", family: FamilyOpenAI, text: "ok"})
	r.SetPreferences(TaskReasoning, []string{"primary", "secondary"})

	name, err := r.Select(TaskReasoning, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "primary", name)
}

func TestSelectSkipsProviderOverMaxCost(t *testing.T) {
	r := newTestRouter(t)
	r.Register(ProviderSpec{Name: "expensive", Family: FamilyAnthropic, InputCostPer1K: 100}, &stubProvider{name: "expensive", family: FamilyAnthropic})
	r.Register(ProviderSpec{Name: "cheap", Family: FamilyOllama, InputCostPer1K: 0}, &stubProvider{name: "cheap", family: FamilyOllama})
	r.SetPreferences(TaskReasoning, []string{"expensive", "cheap"})

	// Force expensive's rolling average cost above the ceiling.
	r.mu.Lock()
	r.stats["expensive"] = &Stats{Requests: 1, TotalCostUSD: 5.0}
	r.mu.Unlock()

	name, err := r.Select(TaskReasoning, 1.0, 0)
	require.NoError(t, err)
	assert.Equal(t, "cheap", name)
}

func TestSelectFallsBackToCheapestLocalWhenAllSkipped(t *testing.T) {
	r := newTestRouter(t)
	r.Register(ProviderSpec{Name: "hosted", Family: FamilyAnthropic, InputCostPer1K: 10}, &stubProvider{name: "hosted", family: FamilyAnthropic})
	r.Register(ProviderSpec{Name: "local", Family: FamilyOllama, InputCostPer1K: 0}, &stubProvider{name: "local", family: FamilyOllama})
	r.SetPreferences(TaskReasoning, []string{"hosted"})

	r.mu.Lock()
	r.stats["hosted"] = &Stats{Requests: 20, Errors: 15}
	r.mu.Unlock()

	name, err := r.Select(TaskReasoning, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "local", name)
}

func TestGenerateFallsBackOnProviderError(t *testing.T) {
	r := newTestRouter(t)
	r.Register(ProviderSpec{Name: "broken", Family: FamilyAnthropic}, &stubProvider{name: "broken", family: FamilyAnthropic, err: assert.AnError})
	r.Register(ProviderSpec{Name: "backup", Family: FamilyOpenAI}, &stubProvider{name: "backup", family: FamilyOpenAI, text: "fallback response"})
	r.SetFallbackChain([]string{"broken", "backup"})

	resp := r.Generate(context.Background(), Request{Prompt: "hi", Preferred: "broken"})
	require.Empty(t, resp.Error)
	assert.Equal(t, "fallback response", resp.Text)
	assert.Equal(t, "broken", resp.Metadata["fallback_from"])
}

func TestGenerateReturnsErrorWhenEveryProviderFails(t *testing.T) {
	r := newTestRouter(t)
	r.Register(ProviderSpec{Name: "a", Family: FamilyAnthropic}, &stubProvider{name: "a", family: FamilyAnthropic, err: assert.AnError})
	r.Register(ProviderSpec{Name: "b", Family: FamilyOpenAI}, &stubProvider{name: "b", family: FamilyOpenAI, err: assert.AnError})
	r.SetFallbackChain([]string{"a", "b"})

	resp := r.Generate(context.Background(), Request{Prompt: "hi", Preferred: "a"})
	assert.NotEmpty(t, resp.Error)
	assert.Empty(t, resp.Text)
}

func TestVotePicksLongestCommonPrefixMajority(t *testing.T) {
	r := newTestRouter(t)
	r.Register(ProviderSpec{Name: "a", Family: FamilyAnthropic}, &stubProvider{name: "a", family: FamilyAnthropic, text: "the answer is 42"})
	r.Register(ProviderSpec{Name: "b", Family: FamilyOpenAI}, &stubProvider{name: "b", family: FamilyOpenAI, text: "the answer is 42"})
	r.Register(ProviderSpec{Name: "c", Family: FamilyGoogle}, &stubProvider{name: "c", family: FamilyGoogle, text: "something else entirely"})

	resp := r.Vote(context.Background(), Request{Prompt: "q"}, []string{"a", "b", "c"})
	assert.Equal(t, "the answer is 42", resp.Text)
}

func TestVoteSkipsFailedProviders(t *testing.T) {
	r := newTestRouter(t)
	r.Register(ProviderSpec{Name: "a", Family: FamilyAnthropic}, &stubProvider{name: "a", family: FamilyAnthropic, err: assert.AnError})
	r.Register(ProviderSpec{Name: "b", Family: FamilyOpenAI}, &stubProvider{name: "b", family: FamilyOpenAI, text: "survivor"})

	resp := r.Vote(context.Background(), Request{Prompt: "q"}, []string{"a", "b"})
	assert.Equal(t, "survivor", resp.Text)
}

func TestPersistAndReloadRoundTripsStats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	r1 := New(path, &core.NoOpLogger{}, nil, nil)
	r1.Register(ProviderSpec{Name: "a", Family: FamilyAnthropic}, &stubProvider{name: "a", family: FamilyAnthropic, text: "ok"})
	r1.Generate(context.Background(), Request{Prompt: "hi", Preferred: "a"})
	require.NoError(t, r1.Persist())

	r2 := New(path, &core.NoOpLogger{}, nil, nil)
	stats, ok := r2.StatsSnapshot("a")
	require.True(t, ok)
	assert.EqualValues(t, 1, stats.Requests)
	assert.EqualValues(t, 1, stats.Successes)
}

func TestLoadStatsToleratesCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stats.json")
	require.NoError(t, os.WriteFile(path, []byte("{not valid json"), 0o644))

	r := New(path, &core.NoOpLogger{}, nil, nil)
	_, ok := r.StatsSnapshot("anything")
	assert.False(t, ok)
}
