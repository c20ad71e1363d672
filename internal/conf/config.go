// Package conf loads the appliance's single YAML configuration document,
// migrating older schema versions forward through a registered chain of
// handlers, and validates the result.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Settings is the fully-resolved, current-version configuration.
type Settings struct {
	ConfigVersion string `mapstructure:"config_version" yaml:"config_version"`
	Debug         bool   `mapstructure:"debug" yaml:"debug"`

	Location LocationSettings `mapstructure:"location" yaml:"location"`
	Model    ModelSettings    `mapstructure:"model" yaml:"model"`
	Audio    AudioSettings    `mapstructure:"audio" yaml:"audio"`

	Notifications    NotificationSettings     `mapstructure:"notifications" yaml:"notifications"`
	MQTT             MQTTSettings             `mapstructure:"mqtt" yaml:"mqtt"`
	Updates          UpdateSettings           `mapstructure:"updates" yaml:"updates"`
	RegionFilter     RegionFilterSettings     `mapstructure:"regional_filter" yaml:"regional_filter"`
	DynamicThreshold DynamicThresholdSettings `mapstructure:"dynamic_threshold" yaml:"dynamic_threshold"`
	SoundLevel       SoundLevelSettings       `mapstructure:"sound_level" yaml:"sound_level"`
	Web              WebSettings              `mapstructure:"web" yaml:"web"`
	Monitoring       MonitoringSettings       `mapstructure:"monitoring" yaml:"monitoring"`

	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
}

// MonitoringSettings controls the host resource monitor: periodic CPU,
// memory, and disk usage sampling with warning/critical notification
// thresholds.
type MonitoringSettings struct {
	Enabled  bool               `mapstructure:"enabled" yaml:"enabled"`
	Interval int                `mapstructure:"interval" yaml:"interval"` // seconds
	CPU      ResourceThresholds `mapstructure:"cpu" yaml:"cpu"`
	Memory   ResourceThresholds `mapstructure:"memory" yaml:"memory"`
	Disk     DiskThresholds     `mapstructure:"disk" yaml:"disk"`
}

// ResourceThresholds are percentage levels (0-100) that move a resource
// into the warning or critical state.
type ResourceThresholds struct {
	Enabled  bool    `mapstructure:"enabled" yaml:"enabled"`
	Warning  float64 `mapstructure:"warning" yaml:"warning"`
	Critical float64 `mapstructure:"critical" yaml:"critical"`
}

// DiskThresholds is a ResourceThresholds plus the mount paths to sample.
type DiskThresholds struct {
	Enabled  bool     `mapstructure:"enabled" yaml:"enabled"`
	Paths    []string `mapstructure:"paths" yaml:"paths"`
	Warning  float64  `mapstructure:"warning" yaml:"warning"`
	Critical float64  `mapstructure:"critical" yaml:"critical"`
}

// WebSettings controls the HTTP/JSON API and SSE/websocket endpoints. The
// appliance has no user accounts: SessionSecret only backs a convenience
// "remember this browser" cookie, not an auth boundary (the HTTP surface is
// expected to sit behind a trusted reverse proxy).
type WebSettings struct {
	Listen        string `mapstructure:"listen" yaml:"listen"`
	SessionSecret string `mapstructure:"session_secret" yaml:"session_secret"`
}

type LocationSettings struct {
	Latitude           float64 `mapstructure:"latitude" yaml:"latitude"`
	Longitude          float64 `mapstructure:"longitude" yaml:"longitude"`
	Timezone           string  `mapstructure:"timezone" yaml:"timezone"`
	Language           string  `mapstructure:"language" yaml:"language"`
	SpeciesDisplayMode string  `mapstructure:"species_display_mode" yaml:"species_display_mode"`
}

type ModelSettings struct {
	Model                   string  `mapstructure:"model" yaml:"model"`
	MetadataModel           string  `mapstructure:"metadata_model" yaml:"metadata_model"`
	LabelPath               string  `mapstructure:"label_path" yaml:"label_path"`
	Threads                 int     `mapstructure:"threads" yaml:"threads"`
	UseXNNPACK              bool    `mapstructure:"use_xnnpack" yaml:"use_xnnpack"`
	SpeciesConfidenceThresh float64 `mapstructure:"species_confidence_threshold" yaml:"species_confidence_threshold"`
	SensitivitySetting      float64 `mapstructure:"sensitivity_setting" yaml:"sensitivity_setting"`
	PrivacyThreshold        float64 `mapstructure:"privacy_threshold" yaml:"privacy_threshold"`
	RangeFilterThreshold    float64 `mapstructure:"range_filter_threshold" yaml:"range_filter_threshold"`
}

// DynamicThresholdSettings controls the per-species confidence threshold
// decay applied during post-filtering: a run of high-confidence detections
// temporarily lowers a species' threshold, reverting to the configured
// baseline once ValidHours passes without another high-confidence hit.
type DynamicThresholdSettings struct {
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled"`
	Debug      bool    `mapstructure:"debug" yaml:"debug"`
	Trigger    float64 `mapstructure:"trigger" yaml:"trigger"`
	Min        float64 `mapstructure:"min" yaml:"min"`
	ValidHours int     `mapstructure:"valid_hours" yaml:"valid_hours"`
}

// SoundLevelSettings controls the per-window RMS/dBFS gauge published to
// the SSE stream and prometheus alongside detections.
type SoundLevelSettings struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

type AudioSettings struct {
	DeviceIndex int     `mapstructure:"audio_device_index" yaml:"audio_device_index"`
	SampleRate  int     `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels    int     `mapstructure:"audio_channels" yaml:"audio_channels"`
	Overlap     float64 `mapstructure:"audio_overlap" yaml:"audio_overlap"`
	ExportClips bool    `mapstructure:"export_clips" yaml:"export_clips"`
}

type NotificationSettings struct {
	AppriseTargets  map[string]string `mapstructure:"apprise_targets" yaml:"apprise_targets"`
	WebhookTargets  map[string]string `mapstructure:"webhook_targets" yaml:"webhook_targets"`
	Rules           []RuleSettings    `mapstructure:"notification_rules" yaml:"notification_rules"`
	TitleDefault    string            `mapstructure:"notification_title_default" yaml:"notification_title_default"`
	BodyDefault     string            `mapstructure:"notification_body_default" yaml:"notification_body_default"`
	QuietHoursStart string            `mapstructure:"notify_quiet_hours_start" yaml:"notify_quiet_hours_start"`
	QuietHoursEnd   string            `mapstructure:"notify_quiet_hours_end" yaml:"notify_quiet_hours_end"`
}

type RuleSettings struct {
	Name              string   `mapstructure:"name" yaml:"name"`
	Enabled           bool     `mapstructure:"enabled" yaml:"enabled"`
	Service           string   `mapstructure:"service" yaml:"service"` // apprise, webhook, mqtt
	Target            string   `mapstructure:"target" yaml:"target"`
	FrequencyWhen     string   `mapstructure:"frequency_when" yaml:"frequency_when"` // always, once_per_day, once_per_week
	FrequencyTime     string   `mapstructure:"frequency_time" yaml:"frequency_time"`
	FrequencyDay      string   `mapstructure:"frequency_day" yaml:"frequency_day"`
	Scope             string   `mapstructure:"scope" yaml:"scope"` // all, new_ever, new_today, new_this_week
	IncludeOrders     []string `mapstructure:"include_orders" yaml:"include_orders"`
	IncludeFamilies   []string `mapstructure:"include_families" yaml:"include_families"`
	IncludeGenera     []string `mapstructure:"include_genera" yaml:"include_genera"`
	IncludeSpecies    []string `mapstructure:"include_species" yaml:"include_species"`
	ExcludeOrders     []string `mapstructure:"exclude_orders" yaml:"exclude_orders"`
	ExcludeFamilies   []string `mapstructure:"exclude_families" yaml:"exclude_families"`
	ExcludeGenera     []string `mapstructure:"exclude_genera" yaml:"exclude_genera"`
	ExcludeSpecies    []string `mapstructure:"exclude_species" yaml:"exclude_species"`
	MinimumConfidence float64  `mapstructure:"minimum_confidence" yaml:"minimum_confidence"`
	TitleTemplate     string   `mapstructure:"title_template" yaml:"title_template"`
	BodyTemplate      string   `mapstructure:"body_template" yaml:"body_template"`
}

type MQTTSettings struct {
	Enabled     bool   `mapstructure:"enable_mqtt" yaml:"enable_mqtt"`
	BrokerHost  string `mapstructure:"mqtt_broker_host" yaml:"mqtt_broker_host"`
	BrokerPort  int    `mapstructure:"mqtt_broker_port" yaml:"mqtt_broker_port"`
	Username    string `mapstructure:"mqtt_username" yaml:"mqtt_username"`
	Password    string `mapstructure:"mqtt_password" yaml:"mqtt_password"`
	TopicPrefix string `mapstructure:"mqtt_topic_prefix" yaml:"mqtt_topic_prefix"`
	ClientID    string `mapstructure:"mqtt_client_id" yaml:"mqtt_client_id"`
}

type UpdateSettings struct {
	CheckEnabled       bool   `mapstructure:"check_enabled" yaml:"check_enabled"`
	CheckIntervalHours int    `mapstructure:"check_interval_hours" yaml:"check_interval_hours"`
	AutoCheckOnStartup bool   `mapstructure:"auto_check_on_startup" yaml:"auto_check_on_startup"`
	GitRemote          string `mapstructure:"git_remote" yaml:"git_remote"`
	GitBranch          string `mapstructure:"git_branch" yaml:"git_branch"`

	Export ExportSettings `mapstructure:"export" yaml:"export"`
}

// ExportSettings configures an optional off-box copy of the pre-update
// snapshot, taken during the snapshotting phase so a failed rollback on
// the box itself still leaves a copy elsewhere.
type ExportSettings struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Protocol string `mapstructure:"protocol" yaml:"protocol"` // "sftp" or "ftp"

	Host          string        `mapstructure:"host" yaml:"host"`
	Port          int           `mapstructure:"port" yaml:"port"`
	Username      string        `mapstructure:"username" yaml:"username"`
	Password      string        `mapstructure:"password" yaml:"password"`
	KeyFile       string        `mapstructure:"key_file" yaml:"key_file"`             // sftp only
	KnownHostFile string        `mapstructure:"known_hosts_file" yaml:"known_hosts_file"` // sftp only
	RemotePath    string        `mapstructure:"remote_path" yaml:"remote_path"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// RegionFilterSettings gates detections against the BirdNET range model's
// probable-species set for the configured location/week (see
// internal/analysis/species.Cache). TTL is fixed in code (24h) rather than
// config-exposed since nothing in this module recomputes it on a different
// schedule.
type RegionFilterSettings struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

const CurrentConfigVersion = "3.0.0"

var (
	settingsInstance *Settings
	settingsMu       sync.RWMutex
)

// Load reads the configuration file (searching the given paths, in order),
// migrates it forward to CurrentConfigVersion, applies defaults, validates
// it, and stores the result as the process-wide instance.
func Load(configPaths ...string) (*Settings, error) {
	settingsMu.Lock()
	defer settingsMu.Unlock()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}
	applyDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	raw := v.AllSettings()
	migrated, err := Migrate(raw)
	if err != nil {
		return nil, fmt.Errorf("migrating config: %w", err)
	}

	v2 := viper.New()
	applyDefaults(v2)
	if err := v2.MergeConfigMap(migrated); err != nil {
		return nil, fmt.Errorf("merging migrated config: %w", err)
	}

	settings := &Settings{}
	if err := v2.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if offending := Validate(settings); len(offending) > 0 {
		return nil, fmt.Errorf("invalid configuration keys: %v", offending)
	}

	settingsInstance = settings
	return settings, nil
}

// Current returns the last successfully loaded Settings, or nil.
func Current() *Settings {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return settingsInstance
}

// Save serializes the settings back to a YAML file at path. Because Settings
// carries yaml tags matching the mapstructure keys Load() expects, a
// save-then-load round trip is structurally equal up to defaults (spec §8).
func Save(path string, s *Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	out, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
