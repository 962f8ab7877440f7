// Package batch builds outlines for every PDF in a directory.
package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/local/pdfoutline/internal/metrics"
	"github.com/local/pdfoutline/internal/pipeline"
)

type Pipeline interface {
	Run(ctx context.Context, pdfPath string, opts ...pipeline.RunOption) (pipeline.Result, error)
}

type Runner struct {
	Pipeline Pipeline
	// Workers bounds concurrent documents; <= 1 runs them in order.
	Workers int
}

type Summary struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// Run writes "<stem>.json" into outputDir for each "*.pdf" in inputDir.
// A failing file is logged and counted; it never stops the batch. Only
// unreadable directories and ctx cancellation return an error.
func (r *Runner) Run(ctx context.Context, inputDir, outputDir string) (Summary, error) {
	files, err := listPDFs(inputDir)
	if err != nil {
		return Summary{}, err
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return Summary{}, fmt.Errorf("create output dir: %w", err)
	}
	log.Info().Str("input", inputDir).Str("output", outputDir).Int("files", len(files)).Msg("batch started")

	var processed, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.Workers, 1))
	for _, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := r.one(gctx, f, outputDir); err != nil {
				failed.Add(1)
				metrics.IncProcessed("failed")
				log.Error().Err(err).Str("file", filepath.Base(f)).Msg("outline failed")
				return nil
			}
			processed.Add(1)
			return nil
		})
	}
	err = g.Wait()

	sum := Summary{Processed: int(processed.Load()), Failed: int(failed.Load())}
	log.Info().Int("processed", sum.Processed).Int("failed", sum.Failed).Msg("batch finished")
	return sum, err
}

func (r *Runner) one(ctx context.Context, pdfPath, outputDir string) error {
	stem := strings.TrimSuffix(filepath.Base(pdfPath), filepath.Ext(pdfPath))
	res, err := r.Pipeline.Run(ctx, pdfPath, pipeline.WithJobID("batch:"+stem))
	if err != nil {
		return err
	}

	out, err := os.Create(filepath.Join(outputDir, stem+".json"))
	if err != nil {
		return err
	}
	if err := res.Document.WriteJSON(out); err != nil {
		out.Close()
		return fmt.Errorf("write outline: %w", err)
	}
	if err := out.Close(); err != nil {
		return err
	}

	result := "success"
	if res.Stats.Skipped != "" {
		result = "skipped"
	}
	metrics.IncProcessed(result)
	log.Info().Str("file", filepath.Base(pdfPath)).Str("title", res.Document.Title).
		Int("entries", len(res.Document.Outline)).Msg("outline written")
	return nil
}

// listPDFs returns "*.pdf" files (any case) sorted by name.
func listPDFs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}
