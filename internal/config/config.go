package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variable overrides, e.g.
// CALLCAPTURE_RECORDING_ENABLED=false.
const EnvPrefix = "CALLCAPTURE"

type Config struct {
	Recording RecordingConfig `mapstructure:"recording" yaml:"recording"`
	Audio     AudioConfig     `mapstructure:"audio" yaml:"audio"`
	Output    OutputConfig    `mapstructure:"output" yaml:"output"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
}

type RecordingConfig struct {
	Enabled   bool `mapstructure:"enabled" yaml:"enabled"`
	KeepAlive bool `mapstructure:"keep_alive" yaml:"keep_alive"` // play silence so loopback keeps delivering frames
}

type AudioConfig struct {
	Backend       string `mapstructure:"backend" yaml:"backend" validate:"oneof=auto malgo"`
	MixSampleRate int    `mapstructure:"mix_sample_rate" yaml:"mix_sample_rate" validate:"min=8000,max=192000"`
	MixChannels   int    `mapstructure:"mix_channels" yaml:"mix_channels" validate:"min=1,max=8"`
	PeriodMS      int    `mapstructure:"period_ms" yaml:"period_ms" validate:"min=0,max=1000"` // 0 lets the driver decide
	LoopbackFile  string `mapstructure:"loopback_file" yaml:"loopback_file" validate:"required,excludesall=/\\"`
	MicFile       string `mapstructure:"mic_file" yaml:"mic_file" validate:"required,excludesall=/\\"`
}

type OutputConfig struct {
	Directory     string `mapstructure:"directory" yaml:"directory" validate:"required"`
	WorkDirectory string `mapstructure:"work_directory" yaml:"work_directory" validate:"required"`
}

type ServerConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen" validate:"required,hostname_port"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Recording: RecordingConfig{
			Enabled:   true,
			KeepAlive: true,
		},
		Audio: AudioConfig{
			Backend:       "auto",
			MixSampleRate: 44100,
			MixChannels:   2,
			PeriodMS:      0,
			LoopbackFile:  "speakers.wav",
			MicFile:       "mic.wav",
		},
		Output: OutputConfig{
			Directory:     filepath.Join(os.Getenv("HOME"), "Audio", "CallCapture"),
			WorkDirectory: filepath.Join(os.TempDir(), "callcapture"),
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:8080",
		},
	}
}

// DefaultPath returns the default location of the config file.
func DefaultPath() string {
	return os.ExpandEnv("$HOME/.config/callcapture.yaml")
}

// newViper returns a viper instance primed with defaults and env overrides.
func newViper(configFile string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("recording.enabled", def.Recording.Enabled)
	v.SetDefault("recording.keep_alive", def.Recording.KeepAlive)
	v.SetDefault("audio.backend", def.Audio.Backend)
	v.SetDefault("audio.mix_sample_rate", def.Audio.MixSampleRate)
	v.SetDefault("audio.mix_channels", def.Audio.MixChannels)
	v.SetDefault("audio.period_ms", def.Audio.PeriodMS)
	v.SetDefault("audio.loopback_file", def.Audio.LoopbackFile)
	v.SetDefault("audio.mic_file", def.Audio.MicFile)
	v.SetDefault("output.directory", def.Output.Directory)
	v.SetDefault("output.work_directory", def.Output.WorkDirectory)
	v.SetDefault("server.listen", def.Server.Listen)
	return v
}

// Load reads configFile. A missing file is not an error: defaults and
// environment overrides apply.
func Load(configFile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	v := newViper(configFile)
	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Output.Directory = expandPath(cfg.Output.Directory)
	cfg.Output.WorkDirectory = expandPath(cfg.Output.WorkDirectory)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Save writes the configuration as YAML to path.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("error writing config file %s: %w", path, err)
	}
	return nil
}

// SetRecordingEnabled persists the recording toggle in configFile,
// creating the file from defaults when it does not exist yet.
func SetRecordingEnabled(configFile string, enabled bool) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	if _, err := os.Stat(configFile); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		cfg.Recording.Enabled = enabled
		return cfg.Save(configFile)
	}

	// Use a separate viper instance so that only the file contents, not
	// defaults or env overrides, are written back.
	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	v.Set("recording.enabled", enabled)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// MixFormat returns the fixed sample rate and channel count every source
// is converted to before mixing.
func (c *Config) MixFormat() (sampleRate, channels int) {
	return c.Audio.MixSampleRate, c.Audio.MixChannels
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, formatValidationMessage(fe))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if strings.EqualFold(c.Audio.LoopbackFile, c.Audio.MicFile) {
		return fmt.Errorf("audio.loopback_file and audio.mic_file must differ")
	}
	if filepath.Ext(c.Audio.MicFile) == "" {
		return fmt.Errorf("audio.mic_file '%s' needs an extension for numbering", c.Audio.MicFile)
	}

	return nil
}

// formatValidationMessage creates a human-readable message from a validator error.
func formatValidationMessage(e validator.FieldError) string {
	field := fieldPath(e.Namespace())
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "excludesall":
		return fmt.Sprintf("%s must be a plain file name", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a host:port address", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// fieldPath turns "Config.Audio.MixSampleRate" into "audio.mixsamplerate".
func fieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	return strings.ToLower(strings.Join(parts, "."))
}

// expandPath expands a leading ~ to the user's home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
