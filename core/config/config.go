// Package config builds the immutable widget configuration from defaults, an
// optional TOML file and EMA_WIDGET_ environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const EnvPrefix = "EMA_WIDGET_"

var DefaultPaths = []string{"./ema-widget.toml", "$HOME/.ema-widget.toml"}

// Config is passed by value into the widget and its collaborators; nothing
// reads it from global state.
type Config struct {
	BaseURL    string `koanf:"base_url"`
	Token      string `koanf:"token"`
	ProjectID  string `koanf:"project_id"`
	ServiceKey string `koanf:"service_key"`

	// ClassMode forces the theme: dark, light or auto.
	ClassMode string `koanf:"class_mode"`
	// DefaultMode is the chat mode opened when none is chosen explicitly.
	DefaultMode string `koanf:"default_mode"`

	// Transport is http or websocket.
	Transport string `koanf:"transport"`
	// StreamMode is direct or two_step, only used by the http transport.
	StreamMode string `koanf:"stream_mode"`
	// Framing is lines or event_stream.
	Framing string `koanf:"framing"`
	// TrailingFrames is discard or parse.
	TrailingFrames string `koanf:"trailing_frames"`

	// PendingStatus is shown from sending a question until the first status
	// event. Empty disables it.
	PendingStatus string `koanf:"pending_status"`

	Endpoints   map[string]string `koanf:"endpoints"`
	HistoryPath string            `koanf:"history_path"`

	Playback Playback `koanf:"playback"`
}

type Playback struct {
	// Policy is humanized or length_step.
	Policy string `koanf:"policy"`
	// Start is on_done or on_first_token.
	Start string `koanf:"start"`
	// Seed makes playback reproducible. Zero picks a random seed.
	Seed uint64 `koanf:"seed"`

	MinDelay      time.Duration `koanf:"min_delay"`
	MaxDelay      time.Duration `koanf:"max_delay"`
	DoubleChance  float64       `koanf:"double_chance"`
	SpacePause    time.Duration `koanf:"space_pause"`
	SentencePause time.Duration `koanf:"sentence_pause"`
}

var defaults = map[string]any{
	"class_mode":      "auto",
	"default_mode":    "user",
	"transport":       "http",
	"stream_mode":     "direct",
	"framing":         "lines",
	"trailing_frames": "discard",
	"pending_status":  "typing...",
	"endpoints.user":  "/query/",
	"endpoints.admin": "/sql/",
	"history_path":    "/history/",

	"playback.policy":         "humanized",
	"playback.start":          "on_done",
	"playback.seed":           0,
	"playback.min_delay":      "25ms",
	"playback.max_delay":      "75ms",
	"playback.double_chance":  0.25,
	"playback.space_pause":    "40ms",
	"playback.sentence_pause": "220ms",
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	var config Config
	k := koanf.New(".")
	k.Load(confmap.Provider(defaults, "."), nil)
	k.Unmarshal("", &config)
	return config
}

// Load builds the configuration. An empty path searches DefaultPaths and
// silently continues without a file when none exists.
func Load(path string) (Config, error) {
	k, err := load(path)
	if err != nil {
		return Config{}, err
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return Config{}, fmt.Errorf("error unmarshalling config: %w", err)
	}
	return config, nil
}

func load(path string) (*koanf.Koanf, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		for _, path := range DefaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// EMA_WIDGET_BASE_URL -> base_url, EMA_WIDGET_PLAYBACK__POLICY -> playback.policy
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("error loading environment: %w", err)
	}

	return k, nil
}

// Render returns the effective configuration as TOML with secrets redacted.
func Render(path string) ([]byte, error) {
	k, err := load(path)
	if err != nil {
		return nil, err
	}
	for _, key := range []string{"token", "service_key"} {
		if k.String(key) != "" {
			k.Set(key, "********")
		}
	}

	out, err := k.Marshal(toml.Parser())
	if err != nil {
		return nil, fmt.Errorf("error rendering config: %w", err)
	}
	return out, nil
}

var ErrMissingBaseURL = errors.New("base_url missing")

// Validate reports every problem found in config.
func Validate(config Config) error {
	var errs []error

	if config.BaseURL == "" {
		errs = append(errs, ErrMissingBaseURL)
	}

	errs = append(errs,
		oneOf("class_mode", config.ClassMode, "dark", "light", "auto"),
		oneOf("transport", config.Transport, "http", "websocket"),
		oneOf("stream_mode", config.StreamMode, "direct", "two_step"),
		oneOf("framing", config.Framing, "lines", "event_stream"),
		oneOf("trailing_frames", config.TrailingFrames, "discard", "parse"),
		oneOf("playback.policy", config.Playback.Policy, "humanized", "length_step"),
		oneOf("playback.start", config.Playback.Start, "on_done", "on_first_token"),
	)

	if _, ok := config.Endpoints[config.DefaultMode]; !ok {
		errs = append(errs, fmt.Errorf("default_mode %q has no endpoint", config.DefaultMode))
	}
	if config.Playback.MinDelay < 0 || config.Playback.MaxDelay < config.Playback.MinDelay {
		errs = append(errs, fmt.Errorf("playback delays must satisfy 0 <= min_delay <= max_delay"))
	}
	if config.Playback.DoubleChance < 0 || config.Playback.DoubleChance > 1 {
		errs = append(errs, fmt.Errorf("playback.double_chance must be between 0 and 1"))
	}

	return errors.Join(errs...)
}

func oneOf(key, value string, allowed ...string) error {
	if slices.Contains(allowed, value) {
		return nil
	}
	return fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, ", "), value)
}

// Init writes a sample configuration file. It refuses to overwrite an existing
// file.
func Init(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("configuration file already exists at %s", path)
	}

	sampleConfig := `# ema-widget configuration

base_url = "https://api.example.com"
token = "your-token"
project_id = "your-project-id"
service_key = "your-service-key"

# dark, light or auto
class_mode = "auto"
# user or admin
default_mode = "user"

# http or websocket
transport = "http"
# direct: the POST response is the stream
# two_step: the POST returns {"stream_url": ...} which is then read with GET
stream_mode = "direct"
# lines or event_stream
framing = "lines"
# discard or parse
trailing_frames = "discard"

pending_status = "typing..."
history_path = "/history/"

[endpoints]
user = "/query/"
admin = "/sql/"

[playback]
# humanized or length_step
policy = "humanized"
# on_done or on_first_token
start = "on_done"
seed = 0
min_delay = "25ms"
max_delay = "75ms"
double_chance = 0.25
space_pause = "40ms"
sentence_pause = "220ms"
`

	return os.WriteFile(path, []byte(sampleConfig), 0o600)
}
