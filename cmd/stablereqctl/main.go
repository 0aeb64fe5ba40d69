// Command stablereqctl runs a single resilient HTTP request from a YAML
// profile, flags, or an interactive setup form, then reports the outcome.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/stablereq/stablereq/internal/engine"
	"github.com/stablereq/stablereq/internal/tui"
	"github.com/stablereq/stablereq/pkg/config"
	"github.com/stablereq/stablereq/pkg/models"
	"github.com/stablereq/stablereq/pkg/stablereq"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("\nfatal error: %v\n", r)
			os.Exit(1)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	var (
		profilePath string
		hostname    string
		method      string
		path        string
		jsonOut     bool
		debug       bool
	)

	flag.StringVar(&profilePath, "profile", "", "path to a YAML profile file")
	flag.StringVar(&profilePath, "f", "", "path to a YAML profile file (shorthand)")
	flag.StringVar(&hostname, "hostname", "", "target hostname")
	flag.StringVar(&method, "method", "", "HTTP method")
	flag.StringVar(&path, "path", "", "request path")
	flag.BoolVar(&jsonOut, "json", false, "print the final result as JSON instead of running the TUI")
	flag.BoolVar(&debug, "debug", false, "run once without the TUI, printing a human summary")
	flag.Parse()

	var plan *tui.PlanResult

	if profilePath != "" {
		profile, err := config.Load(profilePath)
		if err != nil {
			fmt.Printf("profile error: %v\n", err)
			os.Exit(1)
		}
		if hostname != "" {
			profile.Descriptor.Hostname = hostname
		}
		if method != "" {
			profile.Descriptor.Method = models.Method(method)
		}
		if path != "" {
			profile.Descriptor.Path = path
		}
		plan = &tui.PlanResult{
			Descriptor: profile.Descriptor,
			Options:    profile.Options,
			Cache:      profile.Cache,
			Breaker:    profile.Breaker,
		}
	} else if hostname != "" {
		plan = &tui.PlanResult{
			Descriptor: models.RequestDescriptor{
				Hostname: hostname,
				Method:   models.Method(method),
				Path:     path,
			},
			Options: engine.Options{Attempts: 3, Wait: 1000, RetryStrategy: models.StrategyExponential, ResReq: true},
		}
	}

	if debug || jsonOut {
		if plan == nil {
			fmt.Println("debug/json mode requires -profile or -hostname")
			os.Exit(1)
		}
		runHeadless(ctx, *plan, jsonOut)
		return
	}

	p := tea.NewProgram(tui.NewModel(ctx, plan))
	finalModel, err := p.Run()
	if err != nil {
		fmt.Printf("error running program: %v\n", err)
		os.Exit(1)
	}

	if mm, ok := finalModel.(tui.MainModel); ok {
		if result, ok := mm.Result(); ok && !result.Success {
			os.Exit(1)
		}
	}
}

func runHeadless(ctx context.Context, plan tui.PlanResult, jsonOut bool) {
	client := stablereq.New(stablereq.ClientConfig{Cache: plan.Cache, Breaker: plan.Breaker})
	result, err := client.Do(ctx, plan.Descriptor, &plan.Options)
	if err != nil {
		fmt.Printf("engine error: %v\n", err)
		os.Exit(1)
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(result)
		if !result.Success {
			os.Exit(1)
		}
		return
	}

	fmt.Printf("success=%v attempts=%d ok=%d failed=%d p50=%.0fms p99=%.0fms\n",
		result.Success, result.Metrics.TotalAttempts, result.Metrics.SuccessfulAttempts,
		result.Metrics.FailedAttempts, result.Metrics.P50Ms, result.Metrics.P99Ms)
	if result.Error != "" {
		fmt.Println("error:", result.Error)
	}
	if !result.Success {
		os.Exit(1)
	}
}
