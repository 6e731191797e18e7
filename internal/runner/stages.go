package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/dataset"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/extract"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/labels"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/lidar/parse"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/pcd"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/pipeline"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/reorganize"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/ros"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/source"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/source/pcap"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/transform"
)

// SourceKind selects the sensor stream reader.
type SourceKind string

// Supported source kinds.
const (
	SourceBag  SourceKind = "bag"
	SourceBag2 SourceKind = "bag2"
	SourcePcap SourceKind = "pcap"
)

// SourceSpec is an opened sensor stream plus what is needed to extract it.
type SourceSpec struct {
	Source         source.Source
	Registry       *source.Registry
	Topic          string
	IntensityField string
}

// OpenSource opens path as kind using the environment's config.
func (e *Env) OpenSource(kind SourceKind, path string) (*SourceSpec, error) {
	cfg := e.cfg()
	reg := source.NewRegistry()
	switch kind {
	case SourceBag:
		src, err := ros.OpenBag(path, cfg.TopicTypes)
		if err != nil {
			return nil, err
		}
		ros.Register(reg)
		return &SourceSpec{Source: src, Registry: reg, Topic: cfg.GetPointCloudTopic(), IntensityField: cfg.GetIntensityField()}, nil

	case SourceBag2:
		src, err := ros.OpenBag2(path, cfg.TopicTypes)
		if err != nil {
			return nil, err
		}
		ros.Register(reg)
		return &SourceSpec{Source: src, Registry: reg, Topic: cfg.GetPointCloudTopic(), IntensityField: cfg.GetIntensityField()}, nil

	case SourcePcap:
		if cfg.GetAngleCorrections() == "" {
			return nil, errors.New("pcap extraction needs angle_corrections and firetime_corrections")
		}
		calib, err := parse.LoadPandar40PConfig(cfg.GetAngleCorrections(), cfg.GetFiretimeCorrections())
		if err != nil {
			return nil, fmt.Errorf("%w: calibration: %w", pipeline.ErrSourceFormat, err)
		}
		src, err := pcap.Open(path, cfg.GetUDPPort())
		if err != nil {
			return nil, err
		}
		pcap.Register(reg, calib)
		return &SourceSpec{Source: src, Registry: reg, Topic: pcap.Topic(cfg.GetUDPPort()), IntensityField: "intensity"}, nil
	}
	return nil, fmt.Errorf("unknown source kind %q", kind)
}

type extractParams struct {
	Kind           SourceKind `json:"kind"`
	Topic          string     `json:"topic"`
	IntensityField string     `json:"intensity_field"`
	WritePCD       bool       `json:"write_pcd"`
	PCDFormat      string     `json:"pcd_format,omitempty"`
}

// Extract writes one frame per point cloud record of the source at path
// into outDir.
func (e *Env) Extract(ctx context.Context, kind SourceKind, path, outDir string) (*pipeline.Result, error) {
	spec, err := e.OpenSource(kind, path)
	if err != nil {
		return nil, err
	}
	defer spec.Source.Close()
	return e.ExtractFrom(ctx, spec, path, outDir)
}

// ExtractFrom runs extraction over an already opened source.
func (e *Env) ExtractFrom(ctx context.Context, spec *SourceSpec, sourcePath, outDir string) (*pipeline.Result, error) {
	cfg := e.cfg()
	ex, err := extract.New(extract.Options{
		OutputDir:      outDir,
		Topic:          spec.Topic,
		IntensityField: spec.IntensityField,
		WritePCD:       cfg.GetWritePCD(),
		PCDFormat:      pcd.Format(cfg.GetPCDFormat()),
		Registry:       spec.Registry,
		FS:             e.FS,
	})
	if err != nil {
		return nil, err
	}
	params := extractParams{Topic: spec.Topic, IntensityField: spec.IntensityField, WritePCD: cfg.GetWritePCD()}
	if params.WritePCD {
		params.PCDFormat = cfg.GetPCDFormat()
	}
	st := Stage{Name: extract.StageName, Source: sourcePath, Root: outDir, Params: params}
	return e.RunStage(ctx, st, func(ctx context.Context) (*pipeline.Result, error) {
		return ex.Run(ctx, spec.Source)
	})
}

// Reorganize builds the dataset layout under root from extracted arrays.
func (e *Env) Reorganize(ctx context.Context, coordDir, strengthDir, root string) (*pipeline.Result, error) {
	opts := reorganize.Options{
		CoordDir:       coordDir,
		StrengthDir:    strengthDir,
		OutputRoot:     root,
		CoordPrefix:    extract.CoordPrefix,
		StrengthPrefix: extract.StrengthPrefix,
		UnlabeledLabel: int64(e.cfg().GetUnlabeledLabel()),
		FS:             e.FS,
	}
	params := map[string]any{"coord_dir": coordDir, "strength_dir": strengthDir, "unlabeled_label": opts.UnlabeledLabel}
	st := Stage{Name: reorganize.StageName, Source: coordDir, Root: root, Params: params}
	return e.RunStage(ctx, st, func(ctx context.Context) (*pipeline.Result, error) {
		return reorganize.Run(ctx, opts)
	})
}

// NewInjector builds an injector for root from the environment's label
// settings.
func (e *Env) NewInjector(root string) *labels.Injector {
	cfg := e.cfg()
	inj := labels.NewInjector(dataset.NewStore(e.fs(), root), cfg.GetHumanClassTitle(),
		int64(cfg.GetHumanLabel()), int64(cfg.GetUnlabeledLabel()))
	managed := make([]int64, 0, len(cfg.GetManagedLabels()))
	for _, code := range cfg.GetManagedLabels() {
		managed = append(managed, int64(code))
	}
	inj.Managed = labels.NewManagedCodes(managed...)
	return inj
}

type labelParams struct {
	Annotation string  `json:"annotation"`
	FrameMap   string  `json:"frame_map"`
	HumanClass string  `json:"human_class_title"`
	HumanLabel int64   `json:"human_label"`
	Unlabeled  int64   `json:"unlabeled_label"`
	Managed    []int64 `json:"managed_labels"`
}

// Label injects the annotation at annotationPath into root's segment arrays,
// resolving frame indices through the map at frameMapPath.
func (e *Env) Label(ctx context.Context, root, annotationPath, frameMapPath string) (*pipeline.Result, error) {
	inj := e.NewInjector(root)
	params := labelParams{
		Annotation: annotationPath,
		FrameMap:   frameMapPath,
		HumanClass: e.cfg().GetHumanClassTitle(),
		HumanLabel: inj.HumanCode,
		Unlabeled:  inj.Unlabeled,
		Managed:    inj.Managed.Codes(),
	}
	st := Stage{Name: labels.StageName, Source: annotationPath, Root: root, Params: params}
	return e.RunStage(ctx, st, func(ctx context.Context) (*pipeline.Result, error) {
		ann, err := labels.LoadAnnotation(annotationPath)
		if err != nil {
			return nil, err
		}
		fm, err := labels.LoadFrameMap(frameMapPath)
		if err != nil {
			return nil, err
		}
		return inj.Apply(ctx, ann, fm)
	})
}

// ScaleOptions returns the scale options for root and outDir from config.
func (e *Env) ScaleOptions(root, outDir string) transform.Options {
	cfg := e.cfg()
	return transform.Options{
		Root:      root,
		OutputDir: outDir,
		Scales:    cfg.GetScales(),
		Ceiling:   cfg.GetStrengthCeiling(),
		FS:        e.FS,
	}
}

// Scale writes one scaled and normalised copy of root per configured scale
// under outDir. The source root is locked; each output is a fresh tree.
func (e *Env) Scale(ctx context.Context, root, outDir string) (*pipeline.Result, error) {
	opts := e.ScaleOptions(root, outDir)
	params := map[string]any{"scales": opts.Scales, "ceiling": opts.Ceiling, "outputs": opts.OutputRoots()}
	st := Stage{Name: transform.StageName, Source: root, Root: root, Params: params}
	return e.RunStage(ctx, st, func(ctx context.Context) (*pipeline.Result, error) {
		return transform.Run(ctx, opts)
	})
}

// Validate checks every frame under root.
func (e *Env) Validate(ctx context.Context, root string, opts dataset.ValidateOptions) (*pipeline.Result, error) {
	st := Stage{Name: "validate", Source: root, Root: root, Params: opts}
	return e.RunStage(ctx, st, func(ctx context.Context) (*pipeline.Result, error) {
		return dataset.Validate(ctx, dataset.NewStore(e.fs(), root), opts)
	})
}
