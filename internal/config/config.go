// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. HARVESTER_DB_DSN.
const EnvPrefix = "HARVESTER"

// Storage providers.
const (
	ProviderLocal  = "local"
	ProviderGCS    = "gcs"
	ProviderMemory = "memory"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Collector CollectorConfig `mapstructure:"collector"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Run       RunConfig       `mapstructure:"run"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// APIConfig points at the remote review listing endpoint.
type APIConfig struct {
	URL    string `mapstructure:"url"`
	Source string `mapstructure:"source"`
}

// HTTPConfig configures the retrying client.
type HTTPConfig struct {
	ConnectTimeout time.Duration     `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration     `mapstructure:"read_timeout"`
	MaxAttempts    int               `mapstructure:"max_attempts"`
	UserAgents     []string          `mapstructure:"user_agents"`
	Headers        map[string]string `mapstructure:"headers"`
	// Cookie and UID are session values; they are sent only when set.
	Cookie string `mapstructure:"cookie"`
	UID    string `mapstructure:"uid"`
}

// RateLimitConfig bounds the process-wide spacing between requests.
type RateLimitConfig struct {
	MinInterval time.Duration `mapstructure:"min_interval"`
	MaxInterval time.Duration `mapstructure:"max_interval"`
}

// CollectorConfig governs pagination.
type CollectorConfig struct {
	Name                string        `mapstructure:"name"`
	PageSize            int           `mapstructure:"page_size"`
	MaxConsecutiveEmpty int           `mapstructure:"max_consecutive_empty"`
	MaxEmptyPages       int           `mapstructure:"max_empty_pages"`
	PageDelayMin        time.Duration `mapstructure:"page_delay_min"`
	PageDelayMax        time.Duration `mapstructure:"page_delay_max"`
	DedupeReviews       bool          `mapstructure:"dedupe_reviews"`
}

// StorageConfig selects the document backend.
type StorageConfig struct {
	Provider string `mapstructure:"provider"`
	Dir      string `mapstructure:"dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// DBConfig controls access to the record database.
type DBConfig struct {
	DSN            string        `mapstructure:"dsn"`
	Table          string        `mapstructure:"table"`
	Disabled       bool          `mapstructure:"disabled"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// AuditConfig locates the CSV audit log.
type AuditConfig struct {
	Path string `mapstructure:"path"`
}

// ProgressConfig locates the checkpoint file.
type ProgressConfig struct {
	Path        string `mapstructure:"path"`
	MaxAttempts int    `mapstructure:"max_attempts"`
}

// RunConfig holds per-run knobs, most of which have CLI flags.
type RunConfig struct {
	CSV               string  `mapstructure:"csv"`
	Threads           int     `mapstructure:"threads"`
	Limit             int     `mapstructure:"limit"`
	Test              bool    `mapstructure:"test"`
	Langs             string  `mapstructure:"langs"`
	FlushEvery        int     `mapstructure:"flush_every"`
	HeapWarnMiB       uint64  `mapstructure:"heap_warn_mib"`
	CoverageWarnRatio float64 `mapstructure:"coverage_warn_ratio"`
}

// NotifyConfig enables completion events on Pub/Sub when Topic is set.
type NotifyConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig enables the status server when Addr is set.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from defaults, an optional file, and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultUserAgents is the rotation pool used when none is configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:115.0) Gecko/20100101 Firefox/115.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
}

func defaultHeaders() map[string]string {
	return map[string]string{
		"accept":          "application/json, text/plain, */*",
		"accept-language": "zh-CN,zh;q=0.9,en;q=0.8",
		"origin":          "https://www.tripadvisor.cn",
		"referer":         "https://www.tripadvisor.cn/",
		"sec-fetch-dest":  "empty",
		"sec-fetch-mode":  "cors",
		"sec-fetch-site":  "same-site",
		"dnt":             "1",
		"pragma":          "no-cache",
		"cache-control":   "no-cache",
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.url", "https://api.tripadvisor.cn/restapi/soa2/20997/getList")
	v.SetDefault("api.source", "tripadvisor")
	v.SetDefault("http.connect_timeout", 15*time.Second)
	v.SetDefault("http.read_timeout", 45*time.Second)
	v.SetDefault("http.max_attempts", 5)
	v.SetDefault("http.user_agents", DefaultUserAgents)
	v.SetDefault("http.headers", defaultHeaders())
	v.SetDefault("http.cookie", "")
	v.SetDefault("http.uid", "")
	v.SetDefault("ratelimit.min_interval", time.Second)
	v.SetDefault("ratelimit.max_interval", 2*time.Second)
	v.SetDefault("collector.name", "")
	v.SetDefault("collector.page_size", 10)
	v.SetDefault("collector.max_consecutive_empty", 5)
	v.SetDefault("collector.max_empty_pages", 10)
	v.SetDefault("collector.page_delay_min", time.Second)
	v.SetDefault("collector.page_delay_max", 2*time.Second)
	v.SetDefault("collector.dedupe_reviews", false)
	v.SetDefault("storage.provider", ProviderLocal)
	v.SetDefault("storage.dir", "attraction_comments")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "collection_records")
	v.SetDefault("db.disabled", false)
	v.SetDefault("db.max_attempts", 5)
	v.SetDefault("db.connect_timeout", 30*time.Second)
	v.SetDefault("audit.path", "collection_log.csv")
	v.SetDefault("progress.path", "progress.json")
	v.SetDefault("progress.max_attempts", 1)
	v.SetDefault("run.csv", "attraction_urls.csv")
	v.SetDefault("run.threads", 3)
	v.SetDefault("run.limit", 0)
	v.SetDefault("run.test", false)
	v.SetDefault("run.langs", "all")
	v.SetDefault("run.flush_every", 5)
	v.SetDefault("run.heap_warn_mib", 500)
	v.SetDefault("run.coverage_warn_ratio", 0.9)
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic", "")
	v.SetDefault("server.addr", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.API.URL == "" {
		return fmt.Errorf("api.url must be set")
	}
	if c.Run.Threads <= 0 {
		return fmt.Errorf("run.threads must be > 0")
	}
	if c.Run.Limit < 0 {
		return fmt.Errorf("run.limit must be >= 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if c.RateLimit.MinInterval < 0 || c.RateLimit.MaxInterval < c.RateLimit.MinInterval {
		return fmt.Errorf("ratelimit.max_interval must be >= ratelimit.min_interval >= 0")
	}
	if c.Collector.PageDelayMax < c.Collector.PageDelayMin {
		return fmt.Errorf("collector.page_delay_max must be >= collector.page_delay_min")
	}
	if c.Progress.Path == "" {
		return fmt.Errorf("progress.path must be set")
	}
	switch c.Storage.Provider {
	case ProviderLocal:
		if c.Storage.Dir == "" {
			return fmt.Errorf("storage.dir must be set for the local provider")
		}
	case ProviderGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs provider")
		}
	case ProviderMemory:
	default:
		return fmt.Errorf("storage.provider %q is not one of local, gcs, memory", c.Storage.Provider)
	}
	if c.Notify.Topic != "" && c.Notify.ProjectID == "" {
		return fmt.Errorf("notify.project_id must be set when notify.topic is set")
	}
	return nil
}

// RequestHeaders merges the static headers with the session values.
func (c Config) RequestHeaders() map[string]string {
	out := make(map[string]string, len(c.HTTP.Headers)+2)
	for k, v := range c.HTTP.Headers {
		out[k] = v
	}
	if c.HTTP.Cookie != "" {
		out["cookie"] = c.HTTP.Cookie
	}
	if c.HTTP.UID != "" {
		out["x-ta-uid"] = c.HTTP.UID
	}
	return out
}

// EffectiveLimit is the number of URLs a run may schedule; 0 means no limit.
// Test mode caps the run at three URLs unless an explicit limit is smaller.
func (c Config) EffectiveLimit() int {
	const testLimit = 3
	if c.Run.Test && (c.Run.Limit == 0 || c.Run.Limit > testLimit) {
		return testLimit
	}
	return c.Run.Limit
}
