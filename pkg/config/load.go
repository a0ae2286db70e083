package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/CompassSecurity/docleek/pkg/model"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. DOCLEEK_SCAN_WORKERS.
const EnvPrefix = "DOCLEEK"

// FlagKeys maps command line flag names onto configuration keys.
var FlagKeys = map[string]string{
	"actor":          "actor",
	"workers":        "scan.workers",
	"file-timeout":   "scan.file_timeout",
	"max-file-size":  "scan.max_file_size",
	"queue-folder":   "scan.queue_folder",
	"threshold":      "fusion.review_threshold",
	"verify":         "secrets.verify",
	"secrets":        "secrets.enabled",
	"recognizer-url": "recognizer.url",
	"classifier-url": "classifier.url",
	"store":          "store.path",
	"audit-log":      "store.audit_path",
	"key-source":     "store.key_source",
	"ledger":         "review.ledger_path",
	"all":            "review.include_all",
	"max-confidence": "review.max_confidence",
	"limit":          "review.limit",
}

// LoadOptions tells Load where to look.
type LoadOptions struct {
	// ConfigFile is an explicit YAML file. When empty, docleek.yaml is searched in . and $HOME/.config/docleek
	ConfigFile string
	// TablesFile overrides the label and redaction tables
	TablesFile string
	// DotenvFiles are loaded into the environment before reading overrides
	DotenvFiles []string
	Flags       *pflag.FlagSet
}

// Load builds the configuration from defaults, config file, environment and flags, in that order of precedence.
func Load(opts LoadOptions) (Config, error) {
	if err := LoadDotenv(opts.DotenvFiles...); err != nil {
		return Config{}, err
	}

	cfg := Default()
	v := viper.New()
	setDefaults(v, cfg)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("docleek")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/docleek")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		log.Debug().Msg("No config file found, using defaults")
	} else {
		log.Debug().Str("file", v.ConfigFileUsed()).Msg("Loaded config file")
	}

	if opts.Flags != nil {
		for name, key := range FlagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("failed binding flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if opts.TablesFile != "" {
		if err := cfg.ApplyTablesFile(opts.TablesFile); err != nil {
			return Config{}, err
		}
	}

	return cfg, cfg.Validate()
}

// setDefaults registers scalar keys so environment overrides resolve.
// Tables are left to the pre-populated Config, where mapstructure merges file values in.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("actor", cfg.Actor)

	v.SetDefault("pattern.marker_window", cfg.Pattern.MarkerWindow)
	v.SetDefault("pattern.workers", cfg.Pattern.Workers)
	v.SetDefault("pattern.markers", cfg.Pattern.Markers)

	v.SetDefault("secrets.enabled", cfg.Secrets.Enabled)
	v.SetDefault("secrets.verify", cfg.Secrets.Verify)
	v.SetDefault("secrets.verified_score", cfg.Secrets.VerifiedScore)
	v.SetDefault("secrets.unverified_score", cfg.Secrets.UnverifiedScore)

	v.SetDefault("recognizer.url", cfg.Recognizer.URL)
	v.SetDefault("recognizer.timeout", cfg.Recognizer.Timeout)
	v.SetDefault("classifier.url", cfg.Classifier.URL)
	v.SetDefault("classifier.timeout", cfg.Classifier.Timeout)

	v.SetDefault("fusion.review_threshold", cfg.Fusion.ReviewThreshold)
	v.SetDefault("fusion.corroboration_bonus", cfg.Fusion.CorroborationBonus)
	v.SetDefault("fusion.context_bytes", cfg.Fusion.ContextBytes)

	v.SetDefault("redaction.mask", cfg.Redaction.Mask)

	v.SetDefault("scan.workers", cfg.Scan.Workers)
	v.SetDefault("scan.file_timeout", cfg.Scan.FileTimeout)
	v.SetDefault("scan.max_file_size", cfg.Scan.MaxFileSize)
	v.SetDefault("scan.exclude", cfg.Scan.Exclude)
	v.SetDefault("scan.queue_folder", cfg.Scan.QueueFolder)
	v.SetDefault("scan.archive_depth", cfg.Scan.ArchiveDepth)

	v.SetDefault("store.path", cfg.Store.Path)
	v.SetDefault("store.audit_path", cfg.Store.AuditPath)
	v.SetDefault("store.key_source", cfg.Store.KeySource)
	v.SetDefault("store.key_env", cfg.Store.KeyEnv)
	v.SetDefault("store.keyring_service", cfg.Store.KeyringService)
	v.SetDefault("store.keyring_backend", cfg.Store.KeyringBackend)
	v.SetDefault("store.keyring_dir", cfg.Store.KeyringDir)

	v.SetDefault("review.ledger_path", cfg.Review.LedgerPath)
	v.SetDefault("review.include_all", cfg.Review.IncludeAll)
	v.SetDefault("review.max_confidence", cfg.Review.MaxConfidence)
	v.SetDefault("review.limit", cfg.Review.Limit)
}

// LoadDotenv loads .env style files into the process environment. Missing files are ignored.
func LoadDotenv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed loading %s: %w", f, err)
		}
		log.Debug().Str("file", f).Msg("Loaded dotenv file")
	}
	return nil
}

// Tables is the layout of a tables override file.
type Tables struct {
	Labels        map[string]string   `yaml:"labels"`
	Redaction     map[string]Keep     `yaml:"redaction"`
	Compatibility map[string][]string `yaml:"compatibility"`
	Confidence    map[string]float64  `yaml:"base_confidence"`
}

// ApplyTablesFile merges a YAML tables file into c. Entries not named keep their defaults.
func (c *Config) ApplyTablesFile(path string) error {
	// #nosec G304 - user supplied tables file
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed opening tables file: %w", err)
	}
	return c.ApplyTables(raw)
}

func (c *Config) ApplyTables(raw []byte) error {
	var t Tables
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return fmt.Errorf("failed unmarshalling tables file: %w", err)
	}

	if c.Labels == nil {
		c.Labels = map[model.EntityType]model.Label{}
	}
	if c.Redaction.Entity == nil {
		c.Redaction.Entity = map[model.EntityType]Keep{}
	}
	if c.Fusion.Compatibility == nil {
		c.Fusion.Compatibility = map[model.EntityType][]model.EntityType{}
	}
	if c.Fusion.BaseConfidence == nil {
		c.Fusion.BaseConfidence = map[model.EntityType]float64{}
	}

	for entity, l := range t.Labels {
		c.Labels[entityKey(entity)] = model.Label(strings.ToLower(strings.TrimSpace(l)))
	}
	for entity, k := range t.Redaction {
		if entity == "default" {
			c.Redaction.Default = k
			continue
		}
		c.Redaction.Entity[entityKey(entity)] = k
	}
	for generic, specifics := range t.Compatibility {
		list := make([]model.EntityType, 0, len(specifics))
		for _, s := range specifics {
			list = append(list, entityKey(s))
		}
		c.Fusion.Compatibility[entityKey(generic)] = list
	}
	for entity, v := range t.Confidence {
		c.Fusion.BaseConfidence[entityKey(entity)] = v
	}

	log.Debug().Int("labels", len(t.Labels)).Int("redaction", len(t.Redaction)).Msg("Applied tables file")
	return nil
}

func entityKey(s string) model.EntityType {
	return model.EntityType(strings.ToLower(strings.TrimSpace(s)))
}
