package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"cellfit/internal/adapters/fits"
	"cellfit/pkg/allenfit"
	"cellfit/pkg/cellmodel"
)

func newExtractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <file|->",
		Short: "Print the extraction of a fit document as JSON.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fit, err := loadFit(cmd, args[0])
			if err != nil {
				return err
			}
			return writeIndented(cmd.OutOrStdout(), fit)
		},
	}
}

func newPlanCmd(g *globals) *cobra.Command {
	s := cellmodel.DefaultSettings()
	cmd := &cobra.Command{
		Use:   "plan <file|->",
		Short: "Print the simulation plan built from a fit document.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fit, err := loadFit(cmd, args[0])
			if err != nil {
				return err
			}
			plan, err := cellmodel.Build(fit, s)
			if err != nil {
				return err
			}
			g.logger.Debug("plan built", "steps", len(plan.Steps), "labels", len(plan.Labels))
			return writeIndented(cmd.OutOrStdout(), plan)
		},
	}
	f := cmd.Flags()
	f.StringVar(&s.Morphology, "morphology", s.Morphology, "SWC morphology file")
	f.Float64Var(&s.Current, "current", s.Current, "clamp amplitude in nA")
	f.Float64Var(&s.TStart, "t-start", s.TStart, "stimulus start in ms")
	f.Float64Var(&s.TStop, "t-stop", s.TStop, "stimulus stop in ms")
	f.Float64Var(&s.Threshold, "threshold", s.Threshold, "spike detector threshold in mV")
	f.BoolVar(&s.AutoLabel, "auto-label", false, "define labels for regions missing from the dictionary")
	return cmd
}

func newIngestCmd(g *globals) *cobra.Command {
	var export []string
	cmd := &cobra.Command{
		Use:   "ingest <key>...",
		Short: "Extract fit documents from blob storage and store the records.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			if len(export) == 0 {
				return ingestNow(cmd, a, args)
			}
			formats := make([]fits.Format, 0, len(export))
			for _, name := range export {
				f, err := fits.ParseFormat(name)
				if err != nil {
					return err
				}
				formats = append(formats, f)
			}
			return ingestAndExport(cmd, g, a, args, formats)
		},
	}
	cmd.Flags().StringSliceVar(&export, "export", nil, "render the records as json, csv or html into blob storage")
	return cmd
}

func ingestNow(cmd *cobra.Command, a *app, keys []string) error {
	out := cmd.OutOrStdout()
	failed := 0
	for _, key := range keys {
		rec, err := a.service.Ingest(cmd.Context(), key)
		if err != nil {
			failed++
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", key, err)
			continue
		}
		_, _ = fmt.Fprintf(out, "%s\t%s\n", rec.ID, key)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d ingests failed", failed, len(keys))
	}
	return nil
}

// ingestAndExport runs the keys through a worker and waits for it to drain.
func ingestAndExport(cmd *cobra.Command, g *globals, a *app, keys []string, formats []fits.Format) error {
	w := fits.NewWorker(a.service, a.blobs, fits.WithQueueSize(max(g.cfg.Worker.QueueSize, len(keys))))
	jobs := make([]string, 0, len(keys))
	for _, key := range keys {
		job, err := w.Enqueue(cmd.Context(), fits.IngestInput{Key: key, Formats: formats})
		if err != nil {
			return err
		}
		jobs = append(jobs, job.ID)
	}
	w.Start()
	if err := w.Stop(cmd.Context()); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	failed := 0
	for _, id := range jobs {
		job, _ := w.Get(id)
		if job.Status != fits.JobStatusSucceeded {
			failed++
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", job.Key, job.Error)
			continue
		}
		stored := make([]string, len(job.Artifacts))
		for i, art := range job.Artifacts {
			stored[i] = art.Key
		}
		_, _ = fmt.Fprintf(out, "%s\t%s\t%s\n", job.RecordID, job.Key, strings.Join(stored, ","))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d ingests failed", failed, len(jobs))
	}
	return nil
}

func newListCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored fits.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			recs, err := a.service.List(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "ID\tSOURCE\tREGIONS\tMECHANISMS\tCREATED")
			for _, r := range recs {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", r.ID, r.Source, len(r.Fit.Regions), len(r.Fit.Mechanisms), r.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func newShowCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a stored fit as JSON.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			rec, err := a.service.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeIndented(cmd.OutOrStdout(), rec)
		},
	}
}

// loadFit reads a fit document from path, or from stdin when path is "-".
// Extraction errors are reported with their kind and offending block.
func loadFit(cmd *cobra.Command, path string) (allenfit.Fit, error) {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return allenfit.Fit{}, err
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	fit, err := allenfit.Load(r)
	if err != nil {
		if kind := allenfit.Kind(err); kind != "" {
			return allenfit.Fit{}, fmt.Errorf("%s: %s: %w", path, kind, err)
		}
		return allenfit.Fit{}, err
	}
	return fit, nil
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
