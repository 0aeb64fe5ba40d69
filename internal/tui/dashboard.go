package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/stablereq/stablereq/pkg/models"
)

// attemptMsg carries one attempt observed via engine.Options.OnAttempt into
// the bubbletea event loop.
type attemptMsg models.AttemptResult

// resultMsg carries the final EngineResult once Execute returns.
type resultMsg struct {
	result models.EngineResult
	err    error
}

// DashModel renders attempts as they stream in from a running request.
type DashModel struct {
	target   string
	method   string
	start    time.Time
	progress progress.Model
	tick     int

	history   []string
	total     int
	success   int
	failed    int
	cacheHits int

	attempts <-chan models.AttemptResult
	finished <-chan resultMsg
}

func NewDashModel(target, method string, attempts <-chan models.AttemptResult, finished <-chan resultMsg) *DashModel {
	p := progress.New(
		progress.WithScaledGradient("#00FFFF", "#FF6B9D"),
		progress.WithoutPercentage(),
	)
	return &DashModel{
		target:   target,
		method:   method,
		start:    time.Now(),
		progress: p,
		attempts: attempts,
		finished: finished,
	}
}

func (m *DashModel) Init() tea.Cmd {
	return tea.Batch(m.waitForAttempt(), m.waitForFinish(), m.tickCmd())
}

type tickMsg time.Time

func (m *DashModel) tickCmd() tea.Cmd {
	return tea.Tick(120*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *DashModel) waitForAttempt() tea.Cmd {
	return func() tea.Msg {
		a, ok := <-m.attempts
		if !ok {
			return nil
		}
		return attemptMsg(a)
	}
}

func (m *DashModel) waitForFinish() tea.Cmd {
	return func() tea.Msg {
		r, ok := <-m.finished
		if !ok {
			return nil
		}
		return r
	}
}

func (m *DashModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.tick++
		return m, m.tickCmd()
	case attemptMsg:
		m.total++
		if msg.OK {
			m.success++
		} else {
			m.failed++
		}
		if msg.FromCache {
			m.cacheHits++
		}
		m.history = append(m.history, renderAttemptLine(len(m.history)+1, models.AttemptResult(msg)))
		return m, m.waitForAttempt()
	}
	return m, nil
}

func renderAttemptLine(n int, a models.AttemptResult) string {
	mark := successText.Render("✓")
	if !a.OK {
		mark = errText.Render("✗")
	}
	source := ""
	if a.FromCache {
		source = infoText.Render(" (cache)")
	}
	return fmt.Sprintf("%s attempt %d  %s%s  %dms",
		mark, n, metaStyle.Render(fmt.Sprintf("status=%d", a.StatusCode)), source, a.ExecutionTimeMs)
}

func (m *DashModel) View() string {
	var s strings.Builder

	header := logoStyle.Render(asciiLogo) + "\n" + subtitleStyle.Render("resilient HTTP client orchestrator")
	s.WriteString(headerBoxStyle.Render(header))
	s.WriteString("\n\n")

	s.WriteString(fmt.Sprintf("🎯 %s  %s\n\n", targetStyle.Render(m.target), metaStyle.Render(m.method)))

	s.WriteString(dividerStyle.Render(strings.Repeat("━", 60)))
	s.WriteString("\n")
	spinner := GetSpinnerFrame(m.tick)
	elapsed := time.Since(m.start).Round(time.Millisecond)
	cacheRate := 0.0
	if m.total > 0 {
		cacheRate = 100 * float64(m.cacheHits) / float64(m.total)
	}
	s.WriteString(fmt.Sprintf("%s  elapsed %s   total %d   %s %d   %s %d   %s %.0f%%\n",
		lipgloss.NewStyle().Foreground(accentColor).Render(spinner),
		elapsed, m.total,
		successText.Render("ok"), m.success,
		errText.Render("fail"), m.failed,
		infoText.Render("cache hit rate"), cacheRate))
	s.WriteString(dividerStyle.Render(strings.Repeat("━", 60)))
	s.WriteString("\n\n")

	start := 0
	if len(m.history) > 12 {
		start = len(m.history) - 12
	}
	for _, line := range m.history[start:] {
		s.WriteString(line)
		s.WriteString("\n")
	}

	return s.String()
}
