package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/config"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/dataset"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/extract"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/pipeline"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/runner"
)

// sourceFlags are the extraction settings shared by extract and run.
type sourceFlags struct {
	topic          string
	intensityField string
	noPCD          bool
	pcdFormat      string
	udpPort        int
	angles         string
	firetimes      string
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.topic, "topic", config.DefaultPointCloudTopic, "Point cloud topic (bag sources)")
	flags.StringVar(&f.intensityField, "intensity-field", config.DefaultIntensityField, "Point field stored as strength (bag sources)")
	flags.BoolVar(&f.noPCD, "no-pcd", false, "Skip PCD export")
	flags.StringVar(&f.pcdFormat, "pcd-format", config.DefaultPCDFormat, "PCD encoding: binary or ascii")
	flags.IntVar(&f.udpPort, "udp-port", config.DefaultUDPPort, "Hesai data port (pcap sources)")
	flags.StringVar(&f.angles, "angles", "", "Hesai angle correction CSV (pcap sources)")
	flags.StringVar(&f.firetimes, "firetimes", "", "Hesai firetime correction CSV (pcap sources)")
}

func (f *sourceFlags) apply(cmd *cobra.Command, cfg *config.PipelineConfig) {
	if changed(cmd, "topic") {
		cfg.PointCloudTopic = &f.topic
	}
	if changed(cmd, "intensity-field") {
		cfg.IntensityField = &f.intensityField
	}
	if changed(cmd, "no-pcd") {
		write := !f.noPCD
		cfg.WritePCD = &write
	}
	if changed(cmd, "pcd-format") {
		cfg.PCDFormat = &f.pcdFormat
	}
	if changed(cmd, "udp-port") {
		cfg.UDPPort = &f.udpPort
	}
	if changed(cmd, "angles") {
		cfg.AngleCorrections = &f.angles
	}
	if changed(cmd, "firetimes") {
		cfg.FiretimeCorrections = &f.firetimes
	}
}

func parseSourceKind(s string) (runner.SourceKind, error) {
	switch kind := runner.SourceKind(s); kind {
	case runner.SourceBag, runner.SourceBag2, runner.SourcePcap:
		return kind, nil
	}
	return "", fmt.Errorf("unknown source kind %q (want bag, bag2 or pcap)", s)
}

func newExtractCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract per-frame coord/strength arrays from a recording",
	}
	for _, kind := range []runner.SourceKind{runner.SourceBag, runner.SourceBag2, runner.SourcePcap} {
		cmd.AddCommand(newExtractSourceCommand(ctx, kind))
	}
	return cmd
}

func newExtractSourceCommand(ctx *commandContext, kind runner.SourceKind) *cobra.Command {
	var (
		out string
		sf  sourceFlags
	)
	cmd := &cobra.Command{
		Use:   string(kind) + " <file>",
		Short: fmt.Sprintf("Extract frames from a %s recording", kind),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res *pipeline.Result
			err := ctx.withEnv(func(cfg *config.PipelineConfig) { sf.apply(cmd, cfg) }, func(env *runner.Env) error {
				var err error
				res, err = env.Extract(cmd.Context(), kind, args[0], out)
				return err
			})
			printResult(cmd.OutOrStdout(), res)
			if err != nil {
				return err
			}
			return finish(res)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output directory (receives npy/ and pcd/)")
	_ = cmd.MarkFlagRequired("out")
	sf.register(cmd)
	return cmd
}

func newReorganizeCommand(ctx *commandContext) *cobra.Command {
	var from, coordDir, strengthDir, root string
	cmd := &cobra.Command{
		Use:   "reorganize",
		Short: "Build the per-timestamp dataset layout from extracted arrays",
		RunE: func(cmd *cobra.Command, args []string) error {
			if from != "" {
				if coordDir == "" {
					coordDir = extract.CoordDir(from)
				}
				if strengthDir == "" {
					strengthDir = extract.StrengthDir(from)
				}
			}
			if coordDir == "" || strengthDir == "" {
				return fmt.Errorf("pass --from or both --coord-dir and --strength-dir")
			}
			var res *pipeline.Result
			err := ctx.withEnv(nil, func(env *runner.Env) error {
				var err error
				res, err = env.Reorganize(cmd.Context(), coordDir, strengthDir, root)
				return err
			})
			printResult(cmd.OutOrStdout(), res)
			if err != nil {
				return err
			}
			return finish(res)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Extraction output directory")
	cmd.Flags().StringVar(&coordDir, "coord-dir", "", "Directory of pointcloud_<ts>.npy files")
	cmd.Flags().StringVar(&strengthDir, "strength-dir", "", "Directory of intensity_<ts>.npy files")
	cmd.Flags().StringVarP(&root, "root", "r", "", "Dataset root to write")
	_ = cmd.MarkFlagRequired("root")
	return cmd
}

func newLabelCommand(ctx *commandContext) *cobra.Command {
	var (
		root, annotation, frameMap, humanTitle string
		humanLabel, unlabeled                  int
	)
	cmd := &cobra.Command{
		Use:   "label",
		Short: "Write annotation labels into the dataset's segment arrays",
		RunE: func(cmd *cobra.Command, args []string) error {
			override := func(cfg *config.PipelineConfig) {
				if changed(cmd, "human-class") {
					cfg.HumanClassTitle = &humanTitle
				}
				if changed(cmd, "human-label") {
					cfg.HumanLabel = &humanLabel
					if cfg.ManagedLabels == nil {
						cfg.ManagedLabels = []int{humanLabel}
					}
				}
				if changed(cmd, "unlabeled-label") {
					cfg.UnlabeledLabel = &unlabeled
				}
			}
			var res *pipeline.Result
			err := ctx.withEnv(override, func(env *runner.Env) error {
				var err error
				res, err = env.Label(cmd.Context(), root, annotation, frameMap)
				return err
			})
			printResult(cmd.OutOrStdout(), res)
			if err != nil {
				return err
			}
			return finish(res)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&root, "root", "r", "", "Dataset root")
	flags.StringVarP(&annotation, "annotation", "a", "", "Annotation JSON file")
	flags.StringVarP(&frameMap, "frame-map", "m", "", "Frame index to filename JSON map")
	flags.StringVar(&humanTitle, "human-class", config.DefaultHumanClassTitle, "Class title labelled as human")
	flags.IntVar(&humanLabel, "human-label", config.DefaultHumanLabel, "Segment code for human points")
	flags.IntVar(&unlabeled, "unlabeled-label", config.DefaultUnlabeledLabel, "Segment code for unlabeled points")
	for _, name := range []string{"root", "annotation", "frame-map"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newScaleCommand(ctx *commandContext) *cobra.Command {
	var (
		root, out string
		scales    []float64
		ceiling   float64
	)
	cmd := &cobra.Command{
		Use:   "scale",
		Short: "Write scaled and strength-normalised copies of a dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			override := func(cfg *config.PipelineConfig) {
				if changed(cmd, "scale") {
					cfg.Scales = scales
				}
				if changed(cmd, "ceiling") {
					cfg.StrengthCeiling = &ceiling
				}
			}
			var res *pipeline.Result
			err := ctx.withEnv(override, func(env *runner.Env) error {
				var err error
				res, err = env.Scale(cmd.Context(), root, out)
				if err == nil {
					for _, dir := range env.ScaleOptions(root, out).OutputRoots() {
						fmt.Fprintln(cmd.OutOrStdout(), "wrote", dir)
					}
				}
				return err
			})
			printResult(cmd.OutOrStdout(), res)
			if err != nil {
				return err
			}
			return finish(res)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&root, "root", "r", "", "Dataset root")
	flags.StringVarP(&out, "out", "o", "", "Parent directory for the scaled datasets")
	flags.Float64SliceVar(&scales, "scale", []float64{config.DefaultScale}, "Coordinate scale factor (repeatable)")
	flags.Float64Var(&ceiling, "ceiling", config.DefaultStrengthCeiling, "Strength normalisation ceiling")
	_ = cmd.MarkFlagRequired("root")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func newValidateCommand(ctx *commandContext) *cobra.Command {
	var opts dataset.ValidateOptions
	cmd := &cobra.Command{
		Use:   "validate <root>",
		Short: "Check every frame's arrays for consistency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res *pipeline.Result
			err := ctx.withEnv(nil, func(env *runner.Env) error {
				var err error
				res, err = env.Validate(cmd.Context(), args[0], opts)
				return err
			})
			printResult(cmd.OutOrStdout(), res)
			if err != nil {
				return err
			}
			return finish(res)
		},
	}
	cmd.Flags().BoolVar(&opts.Normalized, "normalized", false, "Require strength values in [0,1]")
	cmd.Flags().BoolVar(&opts.RequireAll, "require-all", true, "Report frames missing coord, strength or segment")
	return cmd
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		plan runner.Plan
		sf   sourceFlags
	)
	cmd := &cobra.Command{
		Use:   "run <bag|bag2|pcap> <file>",
		Short: "Run extract, reorganize, label and scale in one go",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseSourceKind(args[0])
			if err != nil {
				return err
			}
			plan.SourceKind = kind
			plan.SourcePath = args[1]
			var res *pipeline.Result
			err = ctx.withEnv(func(cfg *config.PipelineConfig) { sf.apply(cmd, cfg) }, func(env *runner.Env) error {
				var err error
				res, err = (&runner.Runner{Env: env}).Run(cmd.Context(), plan)
				return err
			})
			printResult(cmd.OutOrStdout(), res)
			if err != nil {
				return err
			}
			return finish(res)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&plan.WorkDir, "work", "w", "", "Extraction output directory")
	flags.StringVarP(&plan.DatasetRoot, "root", "r", "", "Dataset root to build")
	flags.StringVarP(&plan.OutputDir, "out", "o", "", "Parent directory for scaled datasets (omit to skip scaling)")
	flags.StringVarP(&plan.AnnotationPath, "annotation", "a", "", "Annotation JSON file (enables labelling)")
	flags.StringVarP(&plan.FrameMapPath, "frame-map", "m", "", "Frame index to filename JSON map")
	_ = cmd.MarkFlagRequired("work")
	_ = cmd.MarkFlagRequired("root")
	sf.register(cmd)
	return cmd
}
