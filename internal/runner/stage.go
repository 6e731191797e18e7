// Package runner wires the dataset stages to their shared infrastructure:
// dataset locks, the run catalog, and source construction from config. It
// also chains the stages into a single pipeline run.
package runner

import (
	"context"
	"fmt"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/catalog"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/config"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/dataset"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/fsutil"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/logging"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/pipeline"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/timeutil"
)

// Env is the shared environment of stage runs.
type Env struct {
	Config  *config.PipelineConfig
	Catalog *catalog.Catalog // nil disables run bookkeeping
	Clock   timeutil.Clock
	FS      fsutil.FileSystem // nil uses the OS filesystem
	// NoLock skips dataset locking; used with in-memory filesystems.
	NoLock bool
}

func (e *Env) cfg() *config.PipelineConfig {
	if e.Config == nil {
		return config.EmptyPipelineConfig()
	}
	return e.Config
}

func (e *Env) fs() fsutil.FileSystem {
	if e.FS == nil {
		return fsutil.OSFileSystem{}
	}
	return e.FS
}

// Stage describes one stage invocation.
type Stage struct {
	Name   string
	Source string
	// Root is the dataset root the stage writes; it is locked for the run.
	Root   string
	Params any
}

// StageFunc runs a stage body.
type StageFunc func(ctx context.Context) (*pipeline.Result, error)

// RunStage locks st.Root, records the run in the catalog when one is
// configured, and runs fn. A non-nil error from fn marks the catalog run
// failed and is returned unchanged.
func (e *Env) RunStage(ctx context.Context, st Stage, fn StageFunc) (*pipeline.Result, error) {
	if st.Root != "" && !e.NoLock {
		lock, err := dataset.Lock(st.Root)
		if err != nil {
			return nil, err
		}
		defer lock.Unlock()
	}

	var rm *catalog.RunManager
	if e.Catalog != nil {
		rm = catalog.NewRunManager(e.Catalog, e.Clock)
		if _, err := rm.StartRun(st.Name, st.Source, st.Root, st.Params); err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
	}

	res, err := fn(ctx)
	if err != nil {
		if rm != nil {
			if ferr := rm.FailRun(err.Error()); ferr != nil {
				logging.Warnf("catalog: %v", ferr)
			}
		}
		return res, err
	}

	if rm != nil {
		if err := rm.CompleteRun(res); err != nil {
			logging.Warnf("catalog: %v", err)
		}
	}
	return res, nil
}
