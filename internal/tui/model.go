package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"finrag/internal/answer"
	"finrag/internal/domain"
	"finrag/internal/summarizer"
)

// TickerPrefix marks input that should be resolved to a ticker symbol.
const TickerPrefix = "$"

// Port is the TUI-facing subset of the answering and ticker services.
type Port interface {
	Answer(ctx context.Context, query string) (*answer.Outcome, error)
	MatchTicker(ctx context.Context, query string) ([]domain.TickerMatch, error)
}

type mode int

const (
	modeAnswer mode = iota
	modeTickers
)

type answerMsg struct {
	query   string
	outcome *answer.Outcome
	err     error
}

type tickerMsg struct {
	query   string
	matches []domain.TickerMatch
	err     error
}

// Model is the Bubble Tea model for the TUI application.
type Model struct {
	port      Port
	timeout   time.Duration
	input     textinput.Model
	viewport  viewport.Model
	mode      mode
	outcome   *answer.Outcome
	matches   []domain.TickerMatch
	status    string
	cursor    int
	ready     bool
	busy      bool
	lastQuery string
}

// New creates a new TUI model instance. timeout bounds each request.
func New(port Port, timeout time.Duration) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question, or $Company to find its ticker"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	if timeout <= 0 {
		timeout = time.Minute
	}
	return Model{port: port, timeout: timeout, input: ti, viewport: vp, status: "Ready. Type a question and press Enter."}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window and result events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around result and query boxes
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		totalHeaderLines := 2                                    // header + help
		totalFooterLines := 1                                    // status
		reserved := totalHeaderLines + totalFooterLines + qh + 1 // 1 spacer
		vh := max(3, msg.Height-reserved)
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.viewport.SetContent(m.render())
		return m, nil
	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.outcome = nil
		} else {
			m.mode, m.outcome, m.cursor, m.lastQuery = modeAnswer, msg.outcome, 0, msg.query
			m.status = fmt.Sprintf("Answer for %q", msg.query)
			if msg.outcome.Fallback {
				m.status += " (no matching documents)"
			}
		}
		m.viewport.SetContent(m.render())
		return m, nil
	case tickerMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.matches = nil
		} else {
			m.mode, m.matches, m.cursor, m.lastQuery = modeTickers, msg.matches, 0, msg.query
			m.status = fmt.Sprintf("%d ticker matches for %q", len(msg.matches), msg.query)
		}
		m.viewport.SetContent(m.render())
		return m, nil
	case tea.KeyMsg:
		// Global quits
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.busy {
				return m, nil
			}
			m.busy = true
			m.input.SetValue("")
			if name, ok := strings.CutPrefix(q, TickerPrefix); ok {
				m.status = fmt.Sprintf("Looking up %q...", strings.TrimSpace(name))
				return m, m.matchCmd(strings.TrimSpace(name))
			}
			m.status = "Thinking..."
			return m, m.answerCmd(q)
		case "down":
			if n := m.items(); n > 0 {
				m.cursor = (m.cursor + 1) % n
				m.viewport.SetContent(m.render())
				return m, nil
			}
		case "up":
			if n := m.items(); n > 0 {
				m.cursor = (m.cursor - 1 + n) % n
				m.viewport.SetContent(m.render())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) answerCmd(q string) tea.Cmd {
	port, timeout := m.port, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		out, err := port.Answer(ctx, q)
		return answerMsg{query: q, outcome: out, err: err}
	}
}

func (m Model) matchCmd(q string) tea.Cmd {
	port, timeout := m.port, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		matches, err := port.MatchTicker(ctx, q)
		return tickerMsg{query: q, matches: matches, err: err}
	}
}

// items is the number of entries the cursor cycles through.
func (m Model) items() int {
	if m.mode == modeTickers {
		return len(m.matches)
	}
	if m.outcome == nil {
		return 0
	}
	return len(m.outcome.Results)
}

// View renders the TUI layout and current result.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("finrag")
	help := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render("enter: ask  $name: ticker  up/down: browse  ctrl+c: quit")
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + help + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) render() string {
	if m.mode == modeTickers {
		return m.renderTickers()
	}
	return m.renderAnswer()
}

func (m Model) renderAnswer() string {
	if m.outcome == nil {
		return "No results yet."
	}
	var b strings.Builder
	b.WriteString(highlightBestSentence(m.outcome.Answer, m.lastQuery))
	if len(m.outcome.Sources) > 0 {
		b.WriteString("\n\nSources:")
		for _, s := range m.outcome.Sources {
			b.WriteString("\n  - " + s)
		}
	}
	if m.outcome.Fallback || len(m.outcome.Results) == 0 {
		return b.String()
	}
	r := m.outcome.Results[m.cursor]
	b.WriteString("\n\n" + dimStyle.Render(fmt.Sprintf("Context %d/%d  distance=%.3f  %s", m.cursor+1, len(m.outcome.Results), r.Distance, r.Chunk.Link())))
	b.WriteString("\n" + highlightBestSentence(r.Chunk.Text, m.lastQuery))
	return b.String()
}

func (m Model) renderTickers() string {
	if len(m.matches) == 0 {
		return "No matching companies."
	}
	lines := make([]string, len(m.matches))
	for i, mt := range m.matches {
		line := fmt.Sprintf("%-8s %-40s %.3f", mt.Symbol, mt.Name, mt.Score)
		if i == m.cursor {
			line = highlightStyle.Render("> " + line)
		} else {
			line = "  " + line
		}
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	unicodeWordRe  = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’]\p{L}+)*`)
)

func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := summarizer.Sentences(text)
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return strings.Join(sentences, " ")
	}
	bestIdx := 0
	bestScore := -1
	for i, s := range sentences {
		score := tokenOverlapScore(qTokens, s)
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	if bestScore > 0 {
		sentences[bestIdx] = highlightStyle.Render(sentences[bestIdx])
	}
	return strings.Join(sentences, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	tokens := unicodeWordRe.FindAllString(strings.ToLower(sentence), -1)
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
