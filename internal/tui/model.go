package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/stablereq/stablereq/pkg/models"
	"github.com/stablereq/stablereq/pkg/stablereq"
)

type state int

const (
	stateSetup state = iota
	stateRunning
	stateSummary
)

// MainModel drives the CLI's three phases: interactive setup, a live
// dashboard while the request runs, and a final summary.
type MainModel struct {
	state state
	ctx   context.Context

	plan PlanResult

	setupModel *SetupModel
	dashModel  *DashModel
	sumModel   *SummaryModel

	quitting bool
}

// NewModel builds the root model. When plan is non-nil, setup is skipped and
// the request starts running immediately.
func NewModel(ctx context.Context, plan *PlanResult) MainModel {
	if plan == nil {
		return MainModel{state: stateSetup, ctx: ctx, setupModel: NewSetupModel()}
	}
	return buildRunningModel(ctx, *plan)
}

// buildRunningModel constructs a fully-formed stateRunning model: the
// dashboard and its feed channels, and the background goroutine driving
// Execute. Everything a running MainModel needs is set synchronously here,
// since Init only ever returns commands, never model state, any field this
// model needs has to exist before it's handed to the program.
func buildRunningModel(ctx context.Context, plan PlanResult) MainModel {
	attempts := make(chan models.AttemptResult, 64)
	finished := make(chan resultMsg, 1)

	dash := NewDashModel(plan.Descriptor.Hostname+plan.Descriptor.Path, string(plan.Descriptor.Method), attempts, finished)

	client := stablereq.New(stablereq.ClientConfig{Cache: plan.Cache, Breaker: plan.Breaker})

	opts := plan.Options
	opts.OnAttempt = func(a models.AttemptResult) { attempts <- a }

	go func() {
		result, err := client.Do(ctx, plan.Descriptor, &opts)
		close(attempts)
		finished <- resultMsg{result: result, err: err}
	}()

	return MainModel{state: stateRunning, ctx: ctx, plan: plan, dashModel: dash}
}

func (m MainModel) Init() tea.Cmd {
	if m.state == stateRunning {
		return m.dashModel.Init()
	}
	return m.setupModel.Init()
}

func (m MainModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok {
		switch k.String() {
		case "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "q":
			if m.state == stateSummary {
				m.quitting = true
				return m, tea.Quit
			}
		}
	}

	switch m.state {
	case stateSetup:
		updated, cmd := m.setupModel.Update(msg)
		m.setupModel = updated.(*SetupModel)
		if m.setupModel.done {
			next := buildRunningModel(m.ctx, m.setupModel.Plan())
			return next, next.Init()
		}
		return m, cmd

	case stateRunning:
		updated, cmd := m.dashModel.Update(msg)
		m.dashModel = updated.(*DashModel)
		if r, ok := msg.(resultMsg); ok {
			m.sumModel = NewSummaryModel(r.result, r.err)
			m.state = stateSummary
			return m, nil
		}
		return m, cmd

	case stateSummary:
		updated, cmd := m.sumModel.Update(msg)
		m.sumModel = updated.(*SummaryModel)
		return m, cmd
	}

	return m, nil
}

func (m MainModel) View() string {
	if m.quitting {
		return ""
	}
	switch m.state {
	case stateSetup:
		return m.setupModel.View()
	case stateRunning:
		return m.dashModel.View()
	case stateSummary:
		return m.sumModel.View()
	}
	return ""
}

// Result exposes the final EngineResult once stateSummary is reached, for a
// caller that wants to act on it after the program exits (e.g. set a
// process exit code).
func (m MainModel) Result() (models.EngineResult, bool) {
	if m.sumModel == nil {
		return models.EngineResult{}, false
	}
	return m.sumModel.result, true
}
