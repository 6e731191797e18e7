package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/extract"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/logging"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/pipeline"
)

// StageRun is the stage name of a chained pipeline result.
const StageRun = "run"

// Plan describes one end-to-end pipeline run.
type Plan struct {
	SourceKind SourceKind
	SourcePath string
	// WorkDir receives the extracted npy/ and pcd/ trees.
	WorkDir     string
	DatasetRoot string
	// OutputDir receives one scaled dataset per configured scale. Empty
	// skips the scale stage.
	OutputDir string
	// AnnotationPath and FrameMapPath enable the label stage when both set.
	AnnotationPath string
	FrameMapPath   string
}

// Validate checks that the plan names every required path.
func (p Plan) Validate() error {
	if p.SourcePath == "" || p.WorkDir == "" || p.DatasetRoot == "" {
		return errors.New("run: source, work directory and dataset root are required")
	}
	if (p.AnnotationPath == "") != (p.FrameMapPath == "") {
		return errors.New("run: annotation and frame map must be given together")
	}
	return nil
}

// Runner chains extract, reorganize, label and scale with one environment.
type Runner struct {
	Env *Env
	// Spec, when set, is used instead of opening Plan.SourcePath.
	Spec *SourceSpec
}

// Run executes plan. Per-stage results are merged into the returned result.
// A fatal stage error stops the chain and is returned with the results so
// far.
func (r *Runner) Run(ctx context.Context, plan Plan) (*pipeline.Result, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	total := pipeline.NewResult(StageRun)
	step := func(name string, res *pipeline.Result, err error) error {
		total.Merge(res)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	}

	var (
		res *pipeline.Result
		err error
	)
	if r.Spec != nil {
		res, err = r.Env.ExtractFrom(ctx, r.Spec, plan.SourcePath, plan.WorkDir)
	} else {
		res, err = r.Env.Extract(ctx, plan.SourceKind, plan.SourcePath, plan.WorkDir)
	}
	if err := step(extract.StageName, res, err); err != nil {
		return total, err
	}

	res, err = r.Env.Reorganize(ctx, extract.CoordDir(plan.WorkDir), extract.StrengthDir(plan.WorkDir), plan.DatasetRoot)
	if err := step("reorganize", res, err); err != nil {
		return total, err
	}

	if plan.AnnotationPath != "" {
		res, err = r.Env.Label(ctx, plan.DatasetRoot, plan.AnnotationPath, plan.FrameMapPath)
		if err := step("label", res, err); err != nil {
			return total, err
		}
	}

	if plan.OutputDir != "" {
		res, err = r.Env.Scale(ctx, plan.DatasetRoot, plan.OutputDir)
		if err := step("scale", res, err); err != nil {
			return total, err
		}
	}

	logging.Opsf("%s", total.Summary())
	return total, nil
}
