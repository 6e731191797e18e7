package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// MaxConfigFileSize bounds the size of a config file accepted by LoadPipelineConfig.
const MaxConfigFileSize = 1 * 1024 * 1024 // 1MB

// Default values applied by the Get* accessors when a field is unset.
const (
	DefaultPointCloudTopic = "/ouster_points"
	DefaultPointCloudType  = "sensor_msgs/PointCloud2"
	DefaultIntensityField  = "intensity"
	DefaultPCDFormat       = "binary"
	DefaultStrengthCeiling = 120.0
	DefaultHumanClassTitle = "human"
	DefaultHumanLabel      = 6
	DefaultUnlabeledLabel  = -1
	DefaultUDPPort         = 2368
	DefaultScale           = 1.1
)

// PipelineConfig holds every tunable of the dataset pipeline. All fields are
// optional; omitted fields fall back to the defaults returned by the Get*
// accessors, so partial config files are safe.
type PipelineConfig struct {
	// Extraction
	PointCloudTopic *string           `json:"pointcloud_topic,omitempty" toml:"pointcloud_topic,omitempty"`
	TopicTypes      map[string]string `json:"topic_types,omitempty" toml:"topic_types,omitempty"`
	IntensityField  *string           `json:"intensity_field,omitempty" toml:"intensity_field,omitempty"`
	WritePCD        *bool             `json:"write_pcd,omitempty" toml:"write_pcd,omitempty"`
	PCDFormat       *string           `json:"pcd_format,omitempty" toml:"pcd_format,omitempty"` // "binary" or "ascii"

	// Scale/normalize
	Scales          []float64 `json:"scales,omitempty" toml:"scales,omitempty"`
	StrengthCeiling *float64  `json:"strength_ceiling,omitempty" toml:"strength_ceiling,omitempty"`

	// Labels
	HumanClassTitle *string `json:"human_class_title,omitempty" toml:"human_class_title,omitempty"`
	HumanLabel      *int    `json:"human_label,omitempty" toml:"human_label,omitempty"`
	UnlabeledLabel  *int    `json:"unlabeled_label,omitempty" toml:"unlabeled_label,omitempty"`
	ManagedLabels   []int   `json:"managed_labels,omitempty" toml:"managed_labels,omitempty"`

	// Run catalog; empty disables it.
	CatalogPath *string `json:"catalog_path,omitempty" toml:"catalog_path,omitempty"`

	// Hesai pcap captures
	UDPPort             *int    `json:"udp_port,omitempty" toml:"udp_port,omitempty"`
	AngleCorrections    *string `json:"angle_corrections,omitempty" toml:"angle_corrections,omitempty"`
	FiretimeCorrections *string `json:"firetime_corrections,omitempty" toml:"firetime_corrections,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyPipelineConfig returns a PipelineConfig with all fields unset.
func EmptyPipelineConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// DefaultPipelineConfig returns a PipelineConfig with every field populated
// from the defaults.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		PointCloudTopic: ptrString(DefaultPointCloudTopic),
		TopicTypes:      map[string]string{DefaultPointCloudTopic: DefaultPointCloudType},
		IntensityField:  ptrString(DefaultIntensityField),
		WritePCD:        ptrBool(true),
		PCDFormat:       ptrString(DefaultPCDFormat),
		Scales:          []float64{DefaultScale},
		StrengthCeiling: ptrFloat64(DefaultStrengthCeiling),
		HumanClassTitle: ptrString(DefaultHumanClassTitle),
		HumanLabel:      ptrInt(DefaultHumanLabel),
		UnlabeledLabel:  ptrInt(DefaultUnlabeledLabel),
		ManagedLabels:   []int{DefaultHumanLabel},
		CatalogPath:     ptrString(""),
		UDPPort:         ptrInt(DefaultUDPPort),
	}
}

// LoadPipelineConfig loads a PipelineConfig from a .json or .toml file.
// The file must be under MaxConfigFileSize. Unknown keys are rejected so
// typos surface instead of silently falling back to defaults.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".toml" {
		return nil, fmt.Errorf("config file must have .json or .toml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > MaxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), MaxConfigFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPipelineConfig()
	switch ext {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config TOML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *PipelineConfig) Validate() error {
	if c.PCDFormat != nil {
		switch *c.PCDFormat {
		case "binary", "ascii":
		default:
			return fmt.Errorf("pcd_format must be \"binary\" or \"ascii\", got %q", *c.PCDFormat)
		}
	}
	for i, s := range c.Scales {
		if s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
			return fmt.Errorf("scales[%d] must be a positive finite number, got %v", i, s)
		}
	}
	if c.StrengthCeiling != nil {
		v := *c.StrengthCeiling
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("strength_ceiling must be a positive finite number, got %v", v)
		}
	}
	if c.PointCloudTopic != nil && *c.PointCloudTopic == "" {
		return fmt.Errorf("pointcloud_topic must not be empty")
	}
	if c.IntensityField != nil && *c.IntensityField == "" {
		return fmt.Errorf("intensity_field must not be empty")
	}
	if c.HumanClassTitle != nil && strings.TrimSpace(*c.HumanClassTitle) == "" {
		return fmt.Errorf("human_class_title must not be empty")
	}
	if c.HumanLabel != nil && c.UnlabeledLabel != nil && *c.HumanLabel == *c.UnlabeledLabel {
		return fmt.Errorf("human_label and unlabeled_label must differ, both are %d", *c.HumanLabel)
	}
	if c.UDPPort != nil && (*c.UDPPort <= 0 || *c.UDPPort > 65535) {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", *c.UDPPort)
	}
	if (c.AngleCorrections == nil) != (c.FiretimeCorrections == nil) {
		return fmt.Errorf("angle_corrections and firetime_corrections must be set together")
	}
	return nil
}

// GetPointCloudTopic returns the pointcloud_topic value or the default.
func (c *PipelineConfig) GetPointCloudTopic() string {
	if c.PointCloudTopic == nil {
		return DefaultPointCloudTopic
	}
	return *c.PointCloudTopic
}

// GetTopicTypes returns the topic to message-type map. The point cloud topic
// is always present and defaults to sensor_msgs/PointCloud2.
func (c *PipelineConfig) GetTopicTypes() map[string]string {
	out := make(map[string]string, len(c.TopicTypes)+1)
	for k, v := range c.TopicTypes {
		out[k] = v
	}
	if _, ok := out[c.GetPointCloudTopic()]; !ok {
		out[c.GetPointCloudTopic()] = DefaultPointCloudType
	}
	return out
}

// GetIntensityField returns the intensity_field value or the default.
func (c *PipelineConfig) GetIntensityField() string {
	if c.IntensityField == nil {
		return DefaultIntensityField
	}
	return *c.IntensityField
}

// GetWritePCD returns the write_pcd value or the default.
func (c *PipelineConfig) GetWritePCD() bool {
	if c.WritePCD == nil {
		return true
	}
	return *c.WritePCD
}

// GetPCDFormat returns the pcd_format value or the default.
func (c *PipelineConfig) GetPCDFormat() string {
	if c.PCDFormat == nil {
		return DefaultPCDFormat
	}
	return *c.PCDFormat
}

// GetScales returns the scale factors or the default single factor.
func (c *PipelineConfig) GetScales() []float64 {
	if len(c.Scales) == 0 {
		return []float64{DefaultScale}
	}
	return append([]float64(nil), c.Scales...)
}

// GetStrengthCeiling returns the strength_ceiling value or the default.
func (c *PipelineConfig) GetStrengthCeiling() float64 {
	if c.StrengthCeiling == nil {
		return DefaultStrengthCeiling
	}
	return *c.StrengthCeiling
}

// GetHumanClassTitle returns the human_class_title value or the default.
func (c *PipelineConfig) GetHumanClassTitle() string {
	if c.HumanClassTitle == nil {
		return DefaultHumanClassTitle
	}
	return *c.HumanClassTitle
}

// GetHumanLabel returns the human_label value or the default.
func (c *PipelineConfig) GetHumanLabel() int {
	if c.HumanLabel == nil {
		return DefaultHumanLabel
	}
	return *c.HumanLabel
}

// GetUnlabeledLabel returns the unlabeled_label value or the default.
func (c *PipelineConfig) GetUnlabeledLabel() int {
	if c.UnlabeledLabel == nil {
		return DefaultUnlabeledLabel
	}
	return *c.UnlabeledLabel
}

// GetManagedLabels returns the label codes reset before annotations are
// applied. Defaults to the human label only.
func (c *PipelineConfig) GetManagedLabels() []int {
	if len(c.ManagedLabels) == 0 {
		return []int{c.GetHumanLabel()}
	}
	return append([]int(nil), c.ManagedLabels...)
}

// GetCatalogPath returns the catalog_path value; empty means disabled.
func (c *PipelineConfig) GetCatalogPath() string {
	if c.CatalogPath == nil {
		return ""
	}
	return *c.CatalogPath
}

// GetUDPPort returns the udp_port value or the default.
func (c *PipelineConfig) GetUDPPort() int {
	if c.UDPPort == nil {
		return DefaultUDPPort
	}
	return *c.UDPPort
}

// GetAngleCorrections returns the angle calibration CSV path, or "".
func (c *PipelineConfig) GetAngleCorrections() string {
	if c.AngleCorrections == nil {
		return ""
	}
	return *c.AngleCorrections
}

// GetFiretimeCorrections returns the firetime calibration CSV path, or "".
func (c *PipelineConfig) GetFiretimeCorrections() string {
	if c.FiretimeCorrections == nil {
		return ""
	}
	return *c.FiretimeCorrections
}
