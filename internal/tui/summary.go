package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/stablereq/stablereq/pkg/models"
)

// SummaryModel renders the final EngineResult once a run completes.
type SummaryModel struct {
	result models.EngineResult
	err    error
}

func NewSummaryModel(result models.EngineResult, err error) *SummaryModel {
	return &SummaryModel{result: result, err: err}
}

func (m *SummaryModel) Init() tea.Cmd { return nil }

func (m *SummaryModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) { return m, nil }

func (m *SummaryModel) View() string {
	var s strings.Builder

	s.WriteString(logoStyle.Render(asciiLogo))
	s.WriteString("\n\n")

	if m.err != nil {
		s.WriteString(errText.Render(fmt.Sprintf("engine error: %v", m.err)))
		s.WriteString("\n\n")
	}

	if m.result.Success {
		s.WriteString(successText.Bold(true).Render("SUCCESS"))
	} else {
		s.WriteString(errText.Bold(true).Render("FAILED"))
		if m.result.Error != "" {
			s.WriteString("  " + metaStyle.Render(m.result.Error))
		}
	}
	s.WriteString("\n\n")

	met := m.result.Metrics
	s.WriteString(fmt.Sprintf("attempts %s   success %s   failed %s\n",
		finalValue.Render(fmt.Sprintf("%d", met.TotalAttempts)),
		finalValue.Render(fmt.Sprintf("%d", met.SuccessfulAttempts)),
		finalValue.Render(fmt.Sprintf("%d", met.FailedAttempts))))
	s.WriteString(fmt.Sprintf("p50 %.0fms   p90 %.0fms   p99 %.0fms   max %.0fms\n",
		met.P50Ms, met.P90Ms, met.P99Ms, met.MaxMs))
	if met.FromCache {
		s.WriteString(infoText.Render("served from cache") + "\n")
	}
	if met.BreakerState != "" {
		s.WriteString(fmt.Sprintf("breaker state: %s\n", warnText.Render(string(met.BreakerState))))
	}
	for _, a := range met.Anomalies {
		s.WriteString(warnText.Render(fmt.Sprintf("⚠ %s anomaly on %s: %.1f (expected %.1f)", a.Severity, a.Metric, a.Value, a.Expected)) + "\n")
	}

	s.WriteString("\n" + subtitleStyle.Render("press q to exit"))
	return s.String()
}
