// Command taxonfinder runs the taxon identification pipeline against a text
// file: process emits identified taxa as JSON, dry-run projects the run's
// workload without spending any API or LLM quota.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"taxonfinder"
	"taxonfinder/config"
	"taxonfinder/format"
	"taxonfinder/loader"
	"taxonfinder/pipeline"
)

func main() {
	app := &cli.App{
		Name:  "taxonfinder",
		Usage: "identify biological taxa mentioned in free-form field notes",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.json",
				Usage:   "path to the pipeline config file",
			},
			&cli.BoolFlag{
				Name:  "json-logs",
				Usage: "emit structured JSON logs instead of human-readable text",
			},
		},
		Before: func(c *cli.Context) error {
			configureLogging(c.Bool("json-logs"))
			return nil
		},
		Commands: []*cli.Command{
			processCommand(),
			dryRunCommand(),
			buildGazetteerCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func configureLogging(jsonLogs bool) {
	var handler slog.Handler
	if jsonLogs {
		handler = slog.NewJSONHandler(os.Stderr, nil)
	} else {
		handler = slog.NewTextHandler(os.Stderr, nil)
	}
	slog.SetDefault(slog.New(handler))
}

func processCommand() *cli.Command {
	return &cli.Command{
		Name:  "process",
		Usage: "extract and resolve taxon mentions in a text file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Required: true, Usage: "path to the input text file"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "path to write JSON results (defaults to stdout)"},
			&cli.BoolFlag{Name: "all-occurrences", Usage: "emit one entry per surface occurrence instead of one per distinct taxon"},
			&cli.StringFlag{Name: "checkpoint-dir", Usage: "checkpoint directory; the checkpoint for this input is cleared after a successful run (disabled unless set)"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}

			text, err := loader.PlainText{}.Load(c.String("input"), cfg.MaxFileSizeMB)
			if err != nil {
				return err
			}

			var opts []pipeline.Option
			if dir := c.String("checkpoint-dir"); dir != "" {
				opts = append(opts, pipeline.WithCheckpointDir(dir))
			}

			p, err := pipeline.New(cfg, opts...)
			if err != nil {
				return err
			}
			defer p.Close()

			out, errc := p.Run(c.Context, text)

			var results []taxonfinder.TaxonResult
			for ev := range out {
				switch ev.Kind {
				case pipeline.EventPhaseStarted:
					fmt.Fprintf(os.Stderr, "[%s] started (%d units)\n", ev.Started.Phase, ev.Started.Total)
				case pipeline.EventResultReady:
					results = append(results, *ev.Result)
				case pipeline.EventPipelineFinished:
					fmt.Fprintf(os.Stderr, "done: %d identified, %d unidentified, %d api calls, %s total\n",
						ev.Summary.IdentifiedCount, ev.Summary.UnidentifiedCount, ev.Summary.APICalls, ev.Summary.TotalTime)
				}
			}
			if err := <-errc; err != nil {
				return err
			}

			var envelope format.Envelope
			if c.Bool("all-occurrences") {
				envelope = format.Full(results)
			} else {
				envelope = format.Deduplicated(results)
			}
			return writeJSON(envelope, c.String("output"))
		},
	}
}

func dryRunCommand() *cli.Command {
	return &cli.Command{
		Name:  "dry-run",
		Usage: "project the workload of a run without calling any API or LLM",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Required: true, Usage: "path to the input text file"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}

			text, err := loader.PlainText{}.Load(c.String("input"), cfg.MaxFileSizeMB)
			if err != nil {
				return err
			}

			p, err := pipeline.New(cfg)
			if err != nil {
				return err
			}
			defer p.Close()

			est, err := p.Estimate(c.Context, text)
			if err != nil {
				return err
			}

			fmt.Printf("sentences:               %d\n", est.Sentences)
			fmt.Printf("chunks (LLM phase 1):     %d\n", est.Chunks)
			fmt.Printf("LLM calls (phase 1):      %d\n", est.LlmCallsPhase1)
			fmt.Printf("gazetteer candidates:     %d\n", est.GazetteerCandidates)
			fmt.Printf("regex candidates:         %d\n", est.RegexCandidates)
			fmt.Printf("unique candidates:        %d\n", est.UniqueCandidates)
			fmt.Printf("estimated API calls:      %d\n", est.APICallsEstimated)
			fmt.Printf("estimated time (seconds): %.1f\n", est.EstimatedTimeSeconds)
			return nil
		},
	}
}

func buildGazetteerCommand() *cli.Command {
	return &cli.Command{
		Name:  "build-gazetteer",
		Usage: "build a gazetteer store from an upstream taxon dump (not implemented yet)",
		Action: func(c *cli.Context) error {
			return fmt.Errorf("build-gazetteer is not implemented yet")
		},
	}
}

func writeJSON(v any, outputPath string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if outputPath == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(outputPath, data, 0o644)
}
