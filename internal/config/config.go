package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// DefaultEvolutionURL is used when no base URL is configured or the configured one is still a template
const DefaultEvolutionURL = "http://localhost:8081"

// Config holds everything the components need, built once at startup
type Config struct {
	Evolution EvolutionConfig `mapstructure:"evolution"`
	Paths     PathsConfig     `mapstructure:"paths"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	LLM       LLMConfig       `mapstructure:"llm"`
	NATS      NATSConfig      `mapstructure:"nats"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Log       LogConfig       `mapstructure:"log"`

	// Dir is the directory the configuration was found in. Relative paths
	// are resolved against it.
	Dir string `mapstructure:"-"`
}

// EvolutionConfig locates the messaging API instance
type EvolutionConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	APIToken      string `mapstructure:"api_token"`
	InstanceName  string `mapstructure:"instance_name"`
	InstanceToken string `mapstructure:"instance_token"`
}

type PathsConfig struct {
	ConfigCSV  string `mapstructure:"config_csv"`
	CacheFile  string `mapstructure:"cache_file"`
	HistoryDB  string `mapstructure:"history_db"`
	SummaryLog string `mapstructure:"summary_log"`
}

type SchedulerConfig struct {
	JobPrefix string `mapstructure:"job_prefix"`
	// Interpreter runs ScriptPath; empty executes it directly
	Interpreter string `mapstructure:"interpreter"`
	// ScriptPath is what scheduled jobs invoke; empty means this executable
	ScriptPath        string `mapstructure:"script_path"`
	LaunchAgentsDir   string `mapstructure:"launch_agents_dir"`
	LaunchdLogDir     string `mapstructure:"launchd_log_dir"`
	WindowsDateLayout string `mapstructure:"windows_date_layout"`
}

type LLMConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// NATSConfig enables lifecycle events when URL is set
type NATSConfig struct {
	URL    string `mapstructure:"url"`
	Stream string `mapstructure:"stream"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadOptions selects the files Load reads
type LoadOptions struct {
	// ConfigFile is an explicit YAML file; empty searches ./config/config.yaml
	ConfigFile string
	// EnvFile is a dotenv file; empty reads .env when present
	EnvFile string
	// FallbackDir is searched for .env and config/config.yaml when the
	// working directory has neither. Scheduled jobs start outside the
	// install directory, so callers pass the executable's directory.
	FallbackDir string
}

// envBindings maps config keys to the environment variables that set them
var envBindings = map[string]string{
	"evolution.base_url":            "EVO_BASE_URL",
	"evolution.api_token":           "EVO_API_TOKEN",
	"evolution.instance_name":       "EVO_INSTANCE_NAME",
	"evolution.instance_token":      "EVO_INSTANCE_TOKEN",
	"paths.config_csv":              "GROUP_SUMMARY_CSV",
	"paths.cache_file":              "GROUPS_CACHE_FILE",
	"paths.history_db":              "REGISTRATION_HISTORY_DB",
	"paths.summary_log":             "SUMMARY_LOG_FILE",
	"scheduler.job_prefix":          "SCHEDULER_JOB_PREFIX",
	"scheduler.interpreter":         "SCHEDULER_INTERPRETER",
	"scheduler.script_path":         "SCHEDULER_SCRIPT_PATH",
	"scheduler.launch_agents_dir":   "SCHEDULER_LAUNCH_AGENTS_DIR",
	"scheduler.launchd_log_dir":     "SCHEDULER_LAUNCHD_LOG_DIR",
	"scheduler.windows_date_layout": "SCHEDULER_WINDOWS_DATE_LAYOUT",
	"llm.api_key":                   "LLM_API_KEY",
	"llm.base_url":                  "LLM_BASE_URL",
	"llm.model":                     "LLM_MODEL",
	"nats.url":                      "NATS_URL",
	"nats.stream":                   "NATS_STREAM",
	"http.addr":                     "HTTP_ADDR",
	"log.level":                     "LOG_LEVEL",
	"log.format":                    "LOG_FORMAT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("evolution.base_url", DefaultEvolutionURL)

	v.SetDefault("paths.config_csv", "group_summary.csv")
	v.SetDefault("paths.cache_file", "groups_cache.json")
	v.SetDefault("paths.history_db", "registration_history.db")
	v.SetDefault("paths.summary_log", "log_summary.txt")

	v.SetDefault("scheduler.job_prefix", "ResumoGrupo")
	v.SetDefault("scheduler.interpreter", "")
	v.SetDefault("scheduler.script_path", "")
	agentsDir := "Library/LaunchAgents"
	if home, err := os.UserHomeDir(); err == nil {
		agentsDir = filepath.Join(home, agentsDir)
	}
	v.SetDefault("scheduler.launch_agents_dir", agentsDir)
	v.SetDefault("scheduler.launchd_log_dir", os.TempDir())
	v.SetDefault("scheduler.windows_date_layout", "02/01/2006")

	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("nats.stream", "SCHEDULES")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads defaults, the YAML file, the dotenv file and the process
// environment, later sources taking precedence
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	dir, err := locateDir(opts.FallbackDir)
	if err != nil {
		return nil, err
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join(dir, "config"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := mergeDotenv(v, opts.EnvFile, filepath.Join(dir, ".env")); err != nil {
		return nil, err
	}

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Dir = dir
	cfg.normalize()
	return &cfg, nil
}

// locateDir picks the working directory, or fallback when only fallback
// holds a .env file or config/config.yaml
func locateDir(fallback string) (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	if fallback == "" || hasConfig(wd) {
		return wd, nil
	}
	if abs, err := filepath.Abs(fallback); err == nil && hasConfig(abs) {
		return abs, nil
	}
	return wd, nil
}

func hasConfig(dir string) bool {
	for _, name := range []string{".env", filepath.Join("config", "config.yaml")} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

// mergeDotenv layers a dotenv file over the YAML config, below the process environment
func mergeDotenv(v *viper.Viper, path, defaultPath string) error {
	explicit := path != ""
	if !explicit {
		path = defaultPath
	}
	if _, err := os.Stat(path); err != nil {
		if explicit {
			return fmt.Errorf("failed to read env file: %w", err)
		}
		return nil
	}

	dv := viper.New()
	dv.SetConfigFile(path)
	dv.SetConfigType("env")
	if err := dv.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read env file: %w", err)
	}

	overrides := make(map[string]interface{})
	for key, env := range envBindings {
		if dv.IsSet(env) {
			setNested(overrides, key, dv.GetString(env))
		}
	}
	if err := v.MergeConfigMap(overrides); err != nil {
		return fmt.Errorf("failed to merge env file: %w", err)
	}
	return nil
}

func setNested(m map[string]interface{}, key string, value interface{}) {
	parts := strings.Split(key, ".")
	for _, p := range parts[:len(parts)-1] {
		child, ok := m[p].(map[string]interface{})
		if !ok {
			child = make(map[string]interface{})
			m[p] = child
		}
		m = child
	}
	m[parts[len(parts)-1]] = value
}

func (c *Config) normalize() {
	c.Evolution.BaseURL = strings.TrimRight(strings.TrimSpace(c.Evolution.BaseURL), "/")
	if c.Evolution.BaseURL == "" || strings.ContainsAny(c.Evolution.BaseURL, "<>") {
		c.Evolution.BaseURL = DefaultEvolutionURL
	}

	for _, p := range []*string{
		&c.Paths.ConfigCSV,
		&c.Paths.CacheFile,
		&c.Paths.HistoryDB,
		&c.Paths.SummaryLog,
		&c.Scheduler.ScriptPath,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(c.Dir, *p)
		}
	}
}

// Validate reports every required setting that is missing
func (c *Config) Validate() error {
	var missing []string
	if c.Evolution.APIToken == "" {
		missing = append(missing, "EVO_API_TOKEN")
	}
	if c.Evolution.InstanceName == "" {
		missing = append(missing, "EVO_INSTANCE_NAME")
	}
	if c.Evolution.InstanceToken == "" {
		missing = append(missing, "EVO_INSTANCE_TOKEN")
	}
	if c.Scheduler.JobPrefix == "" {
		missing = append(missing, "scheduler.job_prefix")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingSetting, strings.Join(missing, ", "))
	}
	if strings.Contains(c.Scheduler.JobPrefix, "_") {
		return fmt.Errorf("job prefix %q must not contain '_'", c.Scheduler.JobPrefix)
	}
	return nil
}

// ErrMissingSetting is returned when required settings are not configured
var ErrMissingSetting = errors.New("missing required settings")
