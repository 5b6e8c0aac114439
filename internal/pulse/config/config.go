package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigFileEnv names the environment variable holding an optional YAML config file path.
const ConfigFileEnv = "PULSE_CONFIG"

// DefaultUserAgent is the Chrome user agent the header hook presents to sites.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36"

// AppConfig holds the daemon configuration. Sources, lowest precedence first:
// DEFAULT_APP_CONFIG, the YAML file named by PULSE_CONFIG, PULSE_* env vars.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// Enabled is the initial state of the filtering toggle.
	Enabled bool `koanf:"enabled"`

	Log        LogConfig        `koanf:"log"`
	API        APIConfig        `koanf:"api"`
	Rules      RulesConfig      `koanf:"rules"`
	Whitelist  WhitelistConfig  `koanf:"whitelist"`
	Stats      StatsConfig      `koanf:"stats"`
	Classifier ClassifierConfig `koanf:"classifier"`
	Responses  ResponsesConfig  `koanf:"responses"`
	Headers    HeadersConfig    `koanf:"headers"`
}

type LogConfig struct {
	// Level controls log verbosity: "debug", "info", "warn", or "error".
	Level string `koanf:"level" validate:"required,oneof=debug info warn error"`
}

type APIConfig struct {
	// Listen is the host API address, host:port. The host may be empty.
	Listen string `koanf:"listen" validate:"required,host_port"`
}

type RulesConfig struct {
	// File is the YAML rules file. Empty selects the built-in rules.
	File string `koanf:"file"`
	// Watch reloads File when it changes.
	Watch bool `koanf:"watch"`
}

type WhitelistConfig struct {
	// DB is the bbolt file holding the persisted whitelist.
	DB string `koanf:"db" validate:"required"`
}

type StatsConfig struct {
	// Interval is the minimum spacing between stats notifications.
	Interval time.Duration `koanf:"interval" validate:"gt=0"`
	// KBPerBlock is the heuristic data-saved estimate added per blocked request.
	KBPerBlock uint64 `koanf:"kb_per_block"`
	// SubscriberBuffer is the queue depth per stats subscriber; older snapshots are dropped.
	SubscriberBuffer int `koanf:"subscriber_buffer" validate:"gte=1"`
}

type ClassifierConfig struct {
	// MissingReferrer decides how requests without a usable referrer are treated.
	MissingReferrer string `koanf:"missing_referrer" validate:"required,referrer_policy"`
	// FirstPartyMode is "subdomain" (hosts related by label suffix) or "site" (same registrable domain).
	FirstPartyMode string `koanf:"first_party_mode" validate:"required,first_party_mode"`
	// CacheSize bounds the host match memo; 0 disables it.
	CacheSize int `koanf:"cache_size" validate:"gte=0"`
	// BloomFPRate is the target false-positive rate of the blocklist prefilter.
	BloomFPRate float64 `koanf:"bloom_fp_rate" validate:"gt=0,lt=1"`
}

type ResponsesConfig struct {
	// PendingSize bounds the number of requests awaiting a body rewrite.
	PendingSize int `koanf:"pending_size" validate:"gte=1"`
	// PendingTTL drops pending rewrites whose response never arrives.
	PendingTTL time.Duration `koanf:"pending_ttl" validate:"gt=0"`
	// MaxBodyBytes passes larger bodies through unmodified.
	MaxBodyBytes int64 `koanf:"max_body_bytes" validate:"gte=1"`
}

type HeadersConfig struct {
	UserAgent     string `koanf:"user_agent"`
	ChromeVersion string `koanf:"chrome_version"`
	DoNotTrack    bool   `koanf:"do_not_track"`
}

// DEFAULT_APP_CONFIG defines the default configuration of the filter daemon.
var DEFAULT_APP_CONFIG = AppConfig{
	Env:     "prod",
	Enabled: true,
	Log:     LogConfig{Level: "info"},
	API:     APIConfig{Listen: "127.0.0.1:8787"},
	Rules:   RulesConfig{File: "", Watch: false},
	Whitelist: WhitelistConfig{
		DB: "/var/lib/rr-pulse/whitelist.db",
	},
	Stats: StatsConfig{
		Interval:         250 * time.Millisecond,
		KBPerBlock:       15,
		SubscriberBuffer: 8,
	},
	Classifier: ClassifierConfig{
		MissingReferrer: "third-party",
		FirstPartyMode:  "subdomain",
		CacheSize:       4096,
		BloomFPRate:     0.01,
	},
	Responses: ResponsesConfig{
		PendingSize:  1024,
		PendingTTL:   2 * time.Minute,
		MaxBodyBytes: 8 << 20,
	},
	Headers: HeadersConfig{
		UserAgent:     DefaultUserAgent,
		ChromeVersion: "133.0.0.0",
		DoNotTrack:    false,
	},
}

// validHostPort accepts "host:port" and ":port" with a port in 1..65535.
func validHostPort(fl validator.FieldLevel) bool {
	_, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil || port == "" {
		return false
	}
	n, err := strconv.ParseUint(port, 10, 16)
	return err == nil && n > 0
}

// envLoader loads PULSE_* variables. The first underscore after the prefix
// separates the section from the key: PULSE_STATS_KB_PER_BLOCK -> stats.kb_per_block.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: "PULSE_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, "PULSE_"))
			if key == "config" {
				return "", nil
			}
			key = strings.Replace(key, "_", ".", 1)
			return key, strings.TrimSpace(value)
		},
	}), nil)
}

var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

var fileLoader = func(k *koanf.Koanf, path string) error {
	return k.Load(file.Provider(path), yaml.Parser())
}

// ReferrerPolicies lists the accepted classifier.missing_referrer values.
var ReferrerPolicies = []string{"third-party", "first-party"}

// FirstPartyModes lists the accepted classifier.first_party_mode values.
var FirstPartyModes = []string{"subdomain", "site"}

func oneOfValidator(allowed []string) validator.Func {
	return func(fl validator.FieldLevel) bool {
		v := fl.Field().String()
		for _, a := range allowed {
			if v == a {
				return true
			}
		}
		return false
	}
}

var registerValidation = func(v *validator.Validate) error {
	if err := v.RegisterValidation("host_port", validHostPort); err != nil {
		return err
	}
	if err := v.RegisterValidation("referrer_policy", oneOfValidator(ReferrerPolicies)); err != nil {
		return err
	}
	return v.RegisterValidation("first_party_mode", oneOfValidator(FirstPartyModes))
}

// Load builds the AppConfig from defaults, the optional file named by
// PULSE_CONFIG and the environment, then validates it.
func Load() (*AppConfig, error) {
	return LoadFile(os.Getenv(ConfigFileEnv))
}

// LoadFile is Load with an explicit config file path; empty skips the file.
func LoadFile(path string) (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	if path != "" {
		if err := fileLoader(k, path); err != nil {
			return nil, fmt.Errorf("error loading config file %s: %w", path, err)
		}
	}

	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(validate); err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}
