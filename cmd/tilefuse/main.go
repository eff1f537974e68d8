// Command tilefuse fuses, schedules, and retains a tiled tensor compute
// graph, writing a solution document for an input problem document.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/atulranjan/tilefuse/internal/config"
	"github.com/atulranjan/tilefuse/internal/cost"
	"github.com/atulranjan/tilefuse/internal/fusion"
	"github.com/atulranjan/tilefuse/internal/planio"
	"github.com/atulranjan/tilefuse/internal/retention"
	"github.com/atulranjan/tilefuse/internal/schedule"
	"github.com/atulranjan/tilefuse/internal/tilelog"
)

func main() {
	var (
		configPath string
		logLevel   string
		logFormat  string
	)

	app := &cli.Command{
		Name:      "tilefuse",
		Usage:     "fuse, schedule, and retain a tiled tensor compute graph",
		ArgsUsage: "<input.json> <output.json>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to a tuning-knob YAML config file", Destination: &configPath},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn, error", Value: "info", Destination: &logLevel},
			&cli.StringFlag{Name: "log-format", Usage: "pretty, json, text", Value: "pretty", Destination: &logFormat},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 2 {
				return cli.Exit("usage: tilefuse [flags] <input.json> <output.json>", 1)
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return cli.Exit(err, 1)
			}
			config.ApplyFlags(cfg, cmd.IsSet("log-level"), cmd.IsSet("log-format"), &logLevel, &logFormat)

			log := newLogger(logFormat, logLevel).With("run_id", uuid.NewString())

			if err := run(cmd.Args().Get(0), cmd.Args().Get(1), cfg, log); err != nil {
				log.Error("run failed", "error", err)
				return cli.Exit(err, 1)
			}
			return nil
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(format, level string) tilelog.Logger {
	lvl := tilelog.ParseLevel(level)
	switch format {
	case "json":
		return tilelog.JSON(os.Stderr, lvl)
	case "text":
		return tilelog.New(slogTextHandler(lvl))
	default:
		return tilelog.Pretty(os.Stderr, lvl)
	}
}

func slogTextHandler(lvl slog.Level) slog.Handler {
	return slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
}

func run(inputPath, outputPath string, cfg config.Config, log tilelog.Logger) error {
	p, err := planio.ReadProblem(inputPath)
	if err != nil {
		return err
	}
	log.Info("problem loaded",
		"tensors", len(p.Tensors), "ops", len(p.Ops),
		"fast_cap", p.FastMemoryCapacity, "slow_bw", p.SlowMemoryBandwidth)

	opts := fusion.Options{
		OnCapped: func(ops []int) {
			log.Warn("granularity search capped", "ops", ops)
		},
	}
	if cfg.MaxCandidates != nil {
		opts.MaxCandidates = *cfg.MaxCandidates
	}
	if cfg.Phase2Epsilon != nil {
		opts.Phase2Epsilon = *cfg.Phase2Epsilon
	}

	sgs, err := fusion.RunWithOptions(p, opts)
	if err != nil {
		return err
	}
	log.Info("fusion complete", "subgraphs", len(sgs))

	ordered := schedule.TopoSort(p, sgs)
	schedule.AssignTraversal(p, ordered)
	retention.Assign(p, ordered)

	var total float64
	for _, sg := range ordered {
		b := cost.Analyze(p, sg.Ops)
		retainedIn := make(map[int]bool)
		retainedOut := make(map[int]bool)
		for _, t := range sg.Retain {
			if b.InBd[t] {
				retainedIn[t] = true
			}
			if b.OutBd[t] {
				retainedOut[t] = true
			}
		}
		sg.Latency = cost.ZigZagLatency(p, sg.Ops, b, sg.Gran, retainedIn, retainedOut)

		total += sg.Latency
		log.Debug("subgraph scheduled",
			"id", sg.ID, "ops", sg.Ops, "gran", sg.Gran, "retain", sg.Retain, "latency", sg.Latency)
	}
	log.Info("schedule complete", "total_latency", total)

	if err := planio.WriteSolution(outputPath, ordered); err != nil {
		return err
	}
	log.Info("solution written", "path", outputPath)
	return nil
}
