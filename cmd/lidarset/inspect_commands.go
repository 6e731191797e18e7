package main

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/catalog"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/dataset"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/fsutil"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/report"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/version"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/viewer"
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

func newReportCommand(ctx *commandContext) *cobra.Command {
	var histogram string
	cmd := &cobra.Command{
		Use:   "report <root>",
		Short: "Summarise point, human and strength statistics of a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store := dataset.NewStore(fsutil.OSFileSystem{}, args[0])
			sum, err := report.Build(cmd.Context(), store, report.Options{HumanLabel: int64(cfg.GetHumanLabel())})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			rows := make([][]string, 0, len(sum.Frames))
			for _, f := range sum.Frames {
				human := "-"
				if f.HasSegment {
					human = strconv.Itoa(f.HumanPoints)
				}
				rows = append(rows, []string{f.Timestamp, strconv.Itoa(f.Points), human,
					formatFloat(f.StrengthMin), formatFloat(f.StrengthMax)})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Frame", "Points", "Human", "Strength min", "Strength max"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
			))
			q := sum.Strength
			fmt.Fprintln(out, renderTable(
				[]string{"Count", "Min", "P50", "P95", "P99", "Max"},
				[][]string{{strconv.Itoa(q.Count), formatFloat(q.Min), formatFloat(q.P50),
					formatFloat(q.P95), formatFloat(q.P99), formatFloat(q.Max)}},
				[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
			))
			fmt.Fprintln(out, sum.String())
			if sum.SuggestedCeiling > 0 {
				fmt.Fprintf(out, "suggested strength ceiling: %s\n", formatFloat(sum.SuggestedCeiling))
			}

			if histogram != "" {
				if err := sum.WriteHistogram(histogram); err != nil {
					return err
				}
				fmt.Fprintln(out, "wrote", histogram)
			}
			printResult(out, sum.Result)
			return finish(sum.Result)
		},
	}
	cmd.Flags().StringVar(&histogram, "histogram", "", "Write a strength histogram PNG to this path")
	return cmd
}

func openSequence(root string) (*viewer.Sequence, error) {
	seq, err := viewer.NewSequence(dataset.NewStore(fsutil.OSFileSystem{}, root))
	if err != nil {
		return nil, err
	}
	if seq.Len() == 0 {
		return nil, fmt.Errorf("no frames under %s", root)
	}
	return seq, nil
}

func writeHTML(path string, views []*viewer.View, opts viewer.RenderOptions) error {
	var buf bytes.Buffer
	if err := viewer.RenderHTML(&buf, views, opts); err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(fsutil.OSFileSystem{}, path, buf.Bytes(), 0o644)
}

func newViewCommand(ctx *commandContext) *cobra.Command {
	var (
		out, from string
		count     int
		opts      viewer.RenderOptions
	)
	cmd := &cobra.Command{
		Use:   "view <root>",
		Short: "Render frames coloured by segment code to an HTML page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := openSequence(args[0])
			if err != nil {
				return err
			}
			cur := seq.Start()
			if from != "" {
				i := seq.IndexOf(dataset.Timestamp(from))
				if i < 0 {
					return fmt.Errorf("frame %s not found under %s", from, args[0])
				}
				cur, _ = cur.Seek(i)
			}

			var views []*viewer.View
			for {
				v, err := seq.Load(cur)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Error loading frame %d: %v\n", cur.Index, err)
				} else {
					views = append(views, v)
				}
				if count > 0 && len(views) >= count {
					break
				}
				next, ok := cur.Next()
				if !ok {
					break
				}
				cur = next
			}
			if err := writeHTML(out, views, opts); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d frame(s) to %s\n", len(views), out)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&out, "out", "o", "frames.html", "HTML output path")
	flags.StringVar(&from, "from", "", "First frame timestamp (default: first frame)")
	flags.IntVarP(&count, "count", "n", 1, "Frames to render, 0 for all")
	flags.IntVar(&opts.MaxPoints, "max-points", viewer.DefaultMaxPoints, "Points drawn per frame")
	flags.StringVar(&opts.AssetsHost, "assets-host", "", "Override the echarts asset host")
	return cmd
}

func newBrowseCommand(ctx *commandContext) *cobra.Command {
	var (
		out  string
		opts viewer.RenderOptions
	)
	cmd := &cobra.Command{
		Use:   "browse <root>",
		Short: "Step through frames interactively, re-rendering an HTML page",
		Long: "Step through frames with a=prev, d=next, g N=goto and q=quit. " +
			"Every frame the cursor lands on is rendered to --out; reload it in a browser.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := openSequence(args[0])
			if err != nil {
				return err
			}
			b := &viewer.Browser{
				Seq: seq,
				Out: cmd.OutOrStdout(),
				Show: func(v *viewer.View) error {
					return writeHTML(out, []*viewer.View{v}, opts)
				},
			}
			_, err = b.Run(cmd.Context(), cmd.InOrStdin())
			return err
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "frame.html", "HTML output path, rewritten on every move")
	cmd.Flags().IntVar(&opts.MaxPoints, "max-points", viewer.DefaultMaxPoints, "Points drawn per frame")
	return cmd
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func newRunsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List catalogued stage runs, or show one run's issues",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := ctx.requireCatalog()
			if err != nil {
				return err
			}
			defer cat.Close()
			if len(args) == 1 {
				return showRun(cmd, cat, args[0])
			}

			runs, err := cat.ListRuns(limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded")
				return nil
			}
			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				rows = append(rows, []string{r.RunID, r.Stage, r.Status, formatTime(&r.CreatedAt),
					strconv.Itoa(r.FramesWritten), strconv.Itoa(r.FramesSkipped), strconv.Itoa(r.IssueCount), r.DatasetRoot})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Run", "Stage", "Status", "Started", "Written", "Skipped", "Issues", "Root"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Runs to list, 0 for all")
	return cmd
}

func showRun(cmd *cobra.Command, cat *catalog.Catalog, id string) error {
	run, err := cat.GetRun(id)
	if errors.Is(err, catalog.ErrRunNotFound) {
		return fmt.Errorf("run %s not found", id)
	}
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:       %s\n", run.RunID)
	fmt.Fprintf(out, "Stage:     %s\n", run.Stage)
	fmt.Fprintf(out, "Status:    %s\n", run.Status)
	fmt.Fprintf(out, "Source:    %s\n", run.SourcePath)
	fmt.Fprintf(out, "Root:      %s\n", run.DatasetRoot)
	fmt.Fprintf(out, "Started:   %s\n", formatTime(&run.CreatedAt))
	fmt.Fprintf(out, "Completed: %s\n", formatTime(run.CompletedAt))
	fmt.Fprintf(out, "Frames:    %d written, %d skipped\n", run.FramesWritten, run.FramesSkipped)
	fmt.Fprintf(out, "Points:    %d written, %d dropped\n", run.PointsWritten, run.PointsDropped)
	fmt.Fprintf(out, "Figures:   %d applied, %d skipped\n", run.FiguresApplied, run.FiguresSkipped)
	fmt.Fprintf(out, "Params:    %s\n", run.ParamsJSON)
	if run.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:     %s\n", run.ErrorMessage)
	}

	issues, err := cat.RunIssues(id)
	if err != nil {
		return err
	}
	if len(issues) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(issues))
	for _, issue := range issues {
		index := ""
		if issue.Index != nil {
			index = strconv.Itoa(*issue.Index)
		}
		rows = append(rows, []string{issue.Kind, issue.Timestamp, index, issue.Path, issue.Message})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Kind", "Timestamp", "Index", "Path", "Message"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft, alignLeft},
	))
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return nil
		},
	}
}
