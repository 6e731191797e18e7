package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/catalog"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/config"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/logging"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/runner"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/timeutil"
)

type commandContext struct {
	configFlag  string
	catalogFlag string
	verbose     bool
	trace       bool

	configOnce sync.Once
	config     *config.PipelineConfig
	configErr  error
}

func (c *commandContext) ensureConfig() (*config.PipelineConfig, error) {
	c.configOnce.Do(func() {
		path := strings.TrimSpace(c.configFlag)
		if path == "" {
			c.config = config.EmptyPipelineConfig()
			return
		}
		c.config, c.configErr = config.LoadPipelineConfig(path)
	})
	return c.config, c.configErr
}

func (c *commandContext) setupLogging(stderr io.Writer) {
	w := logging.LogWriters{Ops: stderr}
	if c.verbose || c.trace {
		w.Diag = stderr
	}
	if c.trace {
		w.Trace = stderr
	}
	logging.SetLogWriters(w)
}

func (c *commandContext) catalogPath() string {
	if p := strings.TrimSpace(c.catalogFlag); p != "" {
		return p
	}
	if c.config != nil {
		return c.config.GetCatalogPath()
	}
	return ""
}

// openCatalog opens the configured catalog, or returns nil when none is set.
func (c *commandContext) openCatalog() (*catalog.Catalog, error) {
	path := c.catalogPath()
	if path == "" {
		return nil, nil
	}
	cat, err := catalog.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	return cat, nil
}

// withEnv builds a stage environment, applies the flag overrides in
// override to its config, and runs fn.
func (c *commandContext) withEnv(override func(*config.PipelineConfig), fn func(*runner.Env) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	if override != nil {
		override(cfg)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}
	cat, err := c.openCatalog()
	if err != nil {
		return err
	}
	if cat != nil {
		defer cat.Close()
	}
	return fn(&runner.Env{Config: cfg, Catalog: cat, Clock: timeutil.RealClock{}})
}

// requireCatalog opens the catalog and fails when none is configured.
func (c *commandContext) requireCatalog() (*catalog.Catalog, error) {
	if _, err := c.ensureConfig(); err != nil {
		return nil, err
	}
	cat, err := c.openCatalog()
	if err != nil {
		return nil, err
	}
	if cat == nil {
		return nil, fmt.Errorf("no catalog configured; pass --catalog or set catalog_path")
	}
	return cat, nil
}

func changed(cmd *cobra.Command, name string) bool {
	return cmd.Flags().Changed(name)
}
