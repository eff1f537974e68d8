// Command tilefuse-verify independently checks a solution document
// against the problem document it claims to solve.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/atulranjan/tilefuse/internal/planio"
	"github.com/atulranjan/tilefuse/internal/verify"
)

func main() {
	app := &cli.Command{
		Name:      "tilefuse-verify",
		Usage:     "independently verify a tilefuse solution document",
		ArgsUsage: "<input.json> <output.json>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 2 {
				return cli.Exit("usage: tilefuse-verify <input.json> <output.json>", 1)
			}
			return runVerify(cmd.Args().Get(0), cmd.Args().Get(1))
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runVerify(inputPath, outputPath string) error {
	p, err := planio.ReadProblem(inputPath)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", planio.ErrRead, outputPath, err)
	}
	var doc planio.SolutionDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %s: %v", planio.ErrParse, outputPath, err)
	}

	sgs := verify.FromDoc(&doc)
	report := verify.Run(p, sgs)

	fmt.Printf("=== Verification: %d ops, %d subgraphs ===\n", len(p.Ops), len(sgs))
	for _, c := range report.Checks {
		status := "PASS"
		if !c.Passed {
			status = "FAIL"
		}
		fmt.Printf("[%s] %s\n", status, c.Name)
		for _, d := range c.Details {
			fmt.Printf("  %s\n", d)
		}
	}

	fmt.Printf("[INFO] Total reported latency:   %.1f\n", report.TotalReported)
	fmt.Printf("[INFO] Total recomputed latency: %.1f\n", report.TotalRecomputed)
	fmt.Printf("[INFO] Unfused baseline:         %.1f\n", report.Baseline)
	fmt.Printf("[INFO] Fusion speedup:           %.2fx\n", report.Speedup)

	if report.OK {
		fmt.Println("=== ALL CHECKS PASSED ===")
		return nil
	}
	fmt.Println("=== SOME CHECKS FAILED ===")
	return cli.Exit("verification failed", 1)
}
