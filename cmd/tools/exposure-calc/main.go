// Package main implements exposure-calc, a local CLI for querying the
// exposure engine against a configured database and cache.
//
// Usage:
//
//	go run ./cmd/tools/exposure-calc calculate --patio=p1 --at=2026-06-21T12:00:00Z
//	go run ./cmd/tools/exposure-calc calculate --patio=p1,p2,p3 --at=2026-06-21T12:00:00Z
//	go run ./cmd/tools/exposure-calc timeline --patio=p1 --start=2026-06-21T06:00:00Z --end=2026-06-21T18:00:00Z --interval=15m
//	go run ./cmd/tools/exposure-calc windows --patio=p1 --start=2026-06-21T06:00:00Z --end=2026-06-21T18:00:00Z --max=3
//	go run ./cmd/tools/exposure-calc invalidate --patio=p1,p2 --reason=footprint_edit
//	go run ./cmd/tools/exposure-calc invalidate --building=b42
//
// Results are printed to stdout as indented JSON. invalidate marks the cache
// entries stale and, when SQS_PRECOMPUTE is set, queues a recompute.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"sunspot/internal/app"
	"sunspot/internal/config"
	"sunspot/internal/exposure"
	"sunspot/internal/timeline"
	"sunspot/internal/types"
)

// ExposureCalculator is the subset of exposure.Service the CLI calls.
type ExposureCalculator interface {
	CalculateExposure(ctx context.Context, patioID string, ts time.Time) (types.SunExposureResult, error)
	CalculateExposureBatch(ctx context.Context, patioIDs []string, ts time.Time) (*exposure.BatchResult, error)
}

// Invalidator is the subset of scheduler.InvalidationService the CLI calls.
type Invalidator interface {
	GeometryChanged(ctx context.Context, patioIDs []string, reason string) error
	BuildingChanged(ctx context.Context, buildingID string) error
}

// TimelineBuilder is the subset of timeline.Generator the CLI calls.
type TimelineBuilder interface {
	Generate(ctx context.Context, req timeline.Request) (*types.Timeline, error)
	BestSunWindows(ctx context.Context, patioID string, start, end time.Time, maxWindows int) ([]types.SunWindow, error)
}

type command struct {
	name     string
	patios   []string
	at       time.Time
	start    time.Time
	end      time.Time
	interval time.Duration
	max      int
	building string
	reason   string
}

var errUsage = errors.New("usage: exposure-calc <calculate|timeline|windows|invalidate> [flags]")

// parseCommand parses the subcommand and its flags. Errors are returned
// rather than printed so the caller decides the exit code.
func parseCommand(args []string, stderr io.Writer) (command, error) {
	if len(args) == 0 {
		return command{}, errUsage
	}
	cmd := command{name: args[0]}

	fs := flag.NewFlagSet(cmd.name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	patio := fs.String("patio", "", "Patio ID (comma-separated for a batch calculate)")
	at := fs.String("at", "", "Instant to evaluate (RFC3339); defaults to now")
	start := fs.String("start", "", "Range start (RFC3339)")
	end := fs.String("end", "", "Range end (RFC3339)")
	fs.DurationVar(&cmd.interval, "interval", 15*time.Minute, "Timeline sampling interval")
	fs.IntVar(&cmd.max, "max", timeline.DefaultMaxWindows, "Maximum windows to return")
	fs.StringVar(&cmd.building, "building", "", "Building ID whose nearby patios to invalidate")
	fs.StringVar(&cmd.reason, "reason", "manual", "Reason recorded on the recompute message")

	switch cmd.name {
	case "calculate", "timeline", "windows", "invalidate":
	default:
		return command{}, fmt.Errorf("unknown command %q: %w", cmd.name, errUsage)
	}
	if err := fs.Parse(args[1:]); err != nil {
		return command{}, err
	}

	for _, id := range strings.Split(*patio, ",") {
		if id = strings.TrimSpace(id); id != "" {
			cmd.patios = append(cmd.patios, id)
		}
	}

	var err error
	switch {
	case cmd.name == "invalidate":
		if (len(cmd.patios) == 0) == (cmd.building == "") {
			return command{}, errors.New("invalidate takes exactly one of --patio or --building")
		}
		return cmd, nil
	case cmd.building != "":
		return command{}, fmt.Errorf("--building only applies to invalidate")
	case len(cmd.patios) == 0:
		return command{}, errors.New("--patio is required")
	}

	switch cmd.name {
	case "calculate":
		cmd.at = time.Now().UTC()
		if *at != "" {
			if cmd.at, err = time.Parse(time.RFC3339, *at); err != nil {
				return command{}, fmt.Errorf("invalid --at: %w", err)
			}
		}
	default:
		if len(cmd.patios) > 1 {
			return command{}, fmt.Errorf("%s takes a single --patio", cmd.name)
		}
		if cmd.start, err = time.Parse(time.RFC3339, *start); err != nil {
			return command{}, fmt.Errorf("invalid --start: %w", err)
		}
		if cmd.end, err = time.Parse(time.RFC3339, *end); err != nil {
			return command{}, fmt.Errorf("invalid --end: %w", err)
		}
	}
	return cmd, nil
}

// execute runs a parsed command and writes its JSON result to out.
func execute(ctx context.Context, cmd command, calc ExposureCalculator, tl TimelineBuilder, inv Invalidator, out io.Writer) error {
	var result any
	var err error

	switch cmd.name {
	case "calculate":
		if len(cmd.patios) == 1 {
			result, err = calc.CalculateExposure(ctx, cmd.patios[0], cmd.at)
		} else {
			result, err = calc.CalculateExposureBatch(ctx, cmd.patios, cmd.at)
		}
	case "timeline":
		result, err = tl.Generate(ctx, timeline.Request{
			PatioID:  cmd.patios[0],
			Start:    cmd.start,
			End:      cmd.end,
			Interval: cmd.interval,
		})
	case "windows":
		result, err = tl.BestSunWindows(ctx, cmd.patios[0], cmd.start, cmd.end, cmd.max)
	case "invalidate":
		if cmd.building != "" {
			err = inv.BuildingChanged(ctx, cmd.building)
			result = map[string]string{"invalidated_building": cmd.building}
		} else {
			err = inv.GeometryChanged(ctx, cmd.patios, cmd.reason)
			result = map[string]any{"invalidated_patios": cmd.patios, "reason": cmd.reason}
		}
	default:
		return fmt.Errorf("unknown command %q", cmd.name)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func main() {
	cmd, err := parseCommand(os.Args[1:], os.Stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(2)
	}

	// Logs go to stderr so stdout stays parseable JSON.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to wire application", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := execute(ctx, cmd, a.Exposure, a.Timeline, a.Invalidation, os.Stdout); err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			logger.Error("command failed", "command", cmd.name, "code", appErr.Code, "error", appErr.Message)
		} else {
			logger.Error("command failed", "command", cmd.name, "error", err)
		}
		a.Close()
		os.Exit(1)
	}
}
