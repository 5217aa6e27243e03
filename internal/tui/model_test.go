package tui

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finrag/internal/answer"
	"finrag/internal/domain"
)

type fakePort struct {
	outcome *answer.Outcome
	matches []domain.TickerMatch
	err     error
	asked   []string
	matched []string
}

func (f *fakePort) Answer(_ context.Context, q string) (*answer.Outcome, error) {
	f.asked = append(f.asked, q)
	return f.outcome, f.err
}

func (f *fakePort) MatchTicker(_ context.Context, q string) ([]domain.TickerMatch, error) {
	f.matched = append(f.matched, q)
	return f.matches, f.err
}

func sized(t *testing.T, port Port) Model {
	t.Helper()
	m, _ := New(port, time.Second).Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return m.(Model)
}

// submit types q, presses enter and feeds the command result back.
func submit(t *testing.T, m Model, q string) Model {
	t.Helper()
	m.input.SetValue(q)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.True(t, next.(Model).busy)
	next, _ = next.Update(cmd())
	return next.(Model)
}

func TestAsk_ShowsAnswerSourcesAndContext(t *testing.T) {
	port := &fakePort{outcome: &answer.Outcome{
		Answer:  "Revenue grew 12% in the third quarter.",
		Sources: []string{"https://ir.example.com/q3"},
		Results: []domain.RetrievalResult{
			{Rank: 1, Distance: 0.25, Chunk: domain.Chunk{Text: "Revenue grew 12% in the third quarter.", Source: "q3.md"}},
			{Rank: 2, Distance: 0.5, Chunk: domain.Chunk{Text: "Margins held.", Source: "q3.md"}},
		},
	}}
	m := submit(t, sized(t, port), "How much did revenue grow?")

	assert.Equal(t, []string{"How much did revenue grow?"}, port.asked)
	assert.False(t, m.busy)
	assert.Equal(t, modeAnswer, m.mode)
	view := m.render()
	assert.Contains(t, view, "Revenue grew 12% in the third quarter.")
	assert.Contains(t, view, "https://ir.example.com/q3")
	assert.Contains(t, view, "Context 1/2")

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(Model)
	assert.Equal(t, 1, m.cursor)
	assert.Contains(t, m.render(), "Context 2/2")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 0, next.(Model).cursor)
}

func TestAsk_FallbackHidesContext(t *testing.T) {
	port := &fakePort{outcome: &answer.Outcome{Answer: "No idea.", Sources: []string{}, Fallback: true}}
	m := submit(t, sized(t, port), "who are you")

	assert.Contains(t, m.status, "no matching documents")
	assert.NotContains(t, m.render(), "Context")
	assert.NotContains(t, m.render(), "Sources")
}

func TestTickerPrefixRunsMatch(t *testing.T) {
	port := &fakePort{matches: []domain.TickerMatch{
		{Name: "Apple Inc.", Symbol: "AAPL", Score: 0.97},
		{Name: "Apple Hospitality REIT", Symbol: "APLE", Score: 0.55},
	}}
	m := submit(t, sized(t, port), "$ Apple")

	assert.Empty(t, port.asked)
	assert.Equal(t, []string{"Apple"}, port.matched)
	assert.Equal(t, modeTickers, m.mode)
	view := m.render()
	assert.Contains(t, view, "AAPL")
	assert.Contains(t, view, "APLE")
	assert.Contains(t, m.status, "2 ticker matches")
}

func TestErrorsShowInStatus(t *testing.T) {
	port := &fakePort{err: errors.Wrap(domain.ErrQueryTooShort, "need at least 2 characters")}
	m := submit(t, sized(t, port), "$a")
	assert.Contains(t, m.status, "Error: need at least 2 characters: query too short")
}

func TestEnterIgnoresBlankInput(t *testing.T) {
	m := sized(t, &fakePort{})
	m.input.SetValue("   ")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.False(t, next.(Model).busy)
}

func TestHighlightBestSentence(t *testing.T) {
	text := "The weather was mild. Revenue grew 12%. Staff got laptops."
	out := highlightBestSentence(text, "revenue growth")
	assert.Contains(t, out, "The weather was mild.")
	assert.Contains(t, out, "Revenue grew 12%.")
	assert.Equal(t, text, highlightBestSentence(text, ""))
	assert.Equal(t, "", highlightBestSentence("", "q"))
}

func TestServicesAdapter(t *testing.T) {
	var _ Port = Services{}
	assert.Equal(t, 2, tokenOverlapScore(toTokenSet("share buyback"), "Share buyback share."))
}
