package tui

import (
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/stablereq/stablereq/internal/breaker"
	"github.com/stablereq/stablereq/internal/cache"
	"github.com/stablereq/stablereq/internal/engine"
	"github.com/stablereq/stablereq/pkg/models"
)

// PlanResult is what a completed setup form resolves to: everything needed
// to build a Client and call Do.
type PlanResult struct {
	Descriptor models.RequestDescriptor
	Options    engine.Options
	Cache      *cache.Config
	Breaker    *breaker.Config
}

// SetupModel drives the interactive "what should I run" form shown when the
// CLI is launched without a profile file or enough flags.
type SetupModel struct {
	form *huh.Form
	done bool

	hostname string
	method   string
	path     string
	attempts string
	wait     string
	strategy string

	cacheEnabled   bool
	breakerEnabled bool
}

func NewSetupModel() *SetupModel {
	m := &SetupModel{
		method:   "GET",
		path:     "/",
		attempts: "3",
		wait:     "1000",
		strategy: "exponential",
	}
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Hostname").Description("bare host, e.g. api.example.com").Value(&m.hostname),
			huh.NewSelect[string]().Title("Method").Options(
				huh.NewOption("GET", "GET"),
				huh.NewOption("POST", "POST"),
				huh.NewOption("PUT", "PUT"),
				huh.NewOption("PATCH", "PATCH"),
				huh.NewOption("DELETE", "DELETE"),
			).Value(&m.method),
			huh.NewInput().Title("Path").Value(&m.path),
		),
		huh.NewGroup(
			huh.NewInput().Title("Attempts").Value(&m.attempts),
			huh.NewInput().Title("Wait (ms)").Value(&m.wait),
			huh.NewSelect[string]().Title("Retry strategy").Options(
				huh.NewOption("exponential", "exponential"),
				huh.NewOption("linear", "linear"),
				huh.NewOption("fixed", "fixed"),
			).Value(&m.strategy),
		),
		huh.NewGroup(
			huh.NewConfirm().Title("Cache responses?").Value(&m.cacheEnabled),
			huh.NewConfirm().Title("Trip a circuit breaker on repeated failures?").Value(&m.breakerEnabled),
		),
	).WithTheme(MakeNeonTheme())

	return m
}

func (m *SetupModel) Init() tea.Cmd {
	return m.form.Init()
}

func (m *SetupModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}
	if m.form.State == huh.StateCompleted {
		m.done = true
	}
	return m, cmd
}

func (m *SetupModel) View() string {
	if m.done {
		return ""
	}
	return logoStyle.Render(asciiLogo) + "  " + subtitleStyle.Render("resilient request setup") + "\n\n" + m.form.View()
}

// Plan resolves the completed form into a PlanResult. Called only once
// m.done is true.
func (m *SetupModel) Plan() PlanResult {
	attempts, _ := strconv.Atoi(strings.TrimSpace(m.attempts))
	wait, _ := strconv.Atoi(strings.TrimSpace(m.wait))

	p := PlanResult{
		Descriptor: models.RequestDescriptor{
			Hostname: strings.TrimSpace(m.hostname),
			Method:   models.Method(m.method),
			Path:     strings.TrimSpace(m.path),
		},
		Options: engine.Options{
			Attempts:      attempts,
			Wait:          wait,
			RetryStrategy: models.RetryStrategy(strings.ToUpper(m.strategy)),
			ResReq:        true,
		},
	}

	if m.cacheEnabled {
		p.Cache = &cache.Config{DefaultTTL: 60 * time.Second}
	}
	if m.breakerEnabled {
		p.Breaker = &breaker.Config{
			FailureThresholdPercentage: 50,
			MinimumRequests:            4,
			RecoveryTimeoutMs:          30000,
		}
	}
	return p
}
