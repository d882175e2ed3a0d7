// Package cli implements the whatif command: submit a decision to the engine
// from a terminal and print the derived result.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"whatif-backend/internal/client"
	"whatif-backend/internal/metrics"
	"whatif-backend/internal/model"
	"whatif-backend/internal/service"
)

const usage = `usage:
  whatif simulate [-f request.yaml] [-seed] [-horizon 6m] [-risk medium] [-title T] [-decision D] [-llm] [-json]
  whatif seed

environment:
  WHATIF_ENGINE_URL  engine base URL (default http://127.0.0.1:8000)
  ENGINE_TIMEOUT     per-call timeout (default 60s)`

// Options 命令行参数
type Options struct {
	RequestFile string
	Seed        bool
	Horizon     string
	Risk        string
	Title       string
	Decision    string
	UseLLM      bool
	JSON        bool
	EngineURL   string
	Timeout     time.Duration
}

// Execute runs one command. Output goes to stdout; the returned error carries
// the engine's message unchanged.
func Execute(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errors.New(usage)
	}

	switch args[0] {
	case "simulate":
		opts, err := parseSimulate(args[1:])
		if err != nil {
			return err
		}
		return runSimulate(ctx, opts, stdout)
	case "seed":
		opts := Options{EngineURL: engineURL(""), Timeout: engineTimeout()}
		eng := client.New(opts.EngineURL, nil)
		callCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
		if err := eng.SeedDemoData(callCtx); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "Demo data seeded.")
		return nil
	case "-h", "-help", "--help", "help":
		fmt.Fprintln(stdout, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
}

func parseSimulate(args []string) (Options, error) {
	fs := flag.NewFlagSet("simulate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var opts Options
	fs.StringVar(&opts.RequestFile, "f", "", "")
	fs.BoolVar(&opts.Seed, "seed", false, "")
	fs.StringVar(&opts.Horizon, "horizon", "", "")
	fs.StringVar(&opts.Risk, "risk", "", "")
	fs.StringVar(&opts.Title, "title", "", "")
	fs.StringVar(&opts.Decision, "decision", "", "")
	fs.BoolVar(&opts.UseLLM, "llm", false, "")
	fs.BoolVar(&opts.JSON, "json", false, "")
	fs.StringVar(&opts.EngineURL, "engine", "", "")
	fs.DurationVar(&opts.Timeout, "timeout", 0, "")
	if err := fs.Parse(args); err != nil {
		return opts, fmt.Errorf("%w\n%s", err, usage)
	}

	opts.EngineURL = engineURL(opts.EngineURL)
	if opts.Timeout <= 0 {
		opts.Timeout = engineTimeout()
	}
	return opts, nil
}

// buildRequest 读取请求文件并应用命令行覆盖项；-seed 时以演示决策为底
func buildRequest(opts Options) (model.SimulationRequest, error) {
	req := model.DefaultRequest()
	if opts.Seed {
		req = model.DemoRequest()
	}
	if opts.RequestFile != "" {
		data, err := os.ReadFile(opts.RequestFile)
		if err != nil {
			return req, fmt.Errorf("read request file: %w", err)
		}
		// JSON is valid YAML, so one decoder serves both
		if err := yaml.Unmarshal(data, &req); err != nil {
			return req, fmt.Errorf("parse request file %s: %w", opts.RequestFile, err)
		}
	}

	if opts.Title != "" {
		req.Title = opts.Title
	}
	if opts.Decision != "" {
		req.DecisionText = opts.Decision
	}
	if opts.Horizon != "" {
		req.Horizon = model.Horizon(opts.Horizon)
	}
	if opts.Risk != "" {
		req.RiskTolerance = model.RiskTolerance(strings.ToLower(opts.Risk))
	}
	if opts.UseLLM {
		req.UseLLMRationale = true
	}

	req.ClampInputs()
	return req, req.Validate()
}

func runSimulate(ctx context.Context, opts Options, stdout io.Writer) error {
	req, err := buildRequest(opts)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	svc := service.NewSimulationService(client.New(opts.EngineURL, nil), service.Options{
		Timeout: opts.Timeout,
		Logger:  logger,
	})

	var view *metrics.View
	if opts.Seed {
		view, err = svc.LoadDemo(ctx, req)
	} else {
		view, err = svc.Simulate(ctx, req)
	}
	if err != nil {
		return err
	}

	if opts.JSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}
	Render(stdout, req, view)
	return nil
}

func engineURL(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv("WHATIF_ENGINE_URL"); v != "" {
		return v
	}
	return client.DefaultBaseURL
}

func engineTimeout() time.Duration {
	if v := os.Getenv("ENGINE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return 60 * time.Second
}
