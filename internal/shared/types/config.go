package types

// Write modes for the combined output file.
const (
	WriteModeReplace = "replace"
	WriteModeAppend  = "append"
)

// Fetch engines.
const (
	EngineHTTP  = "http"
	EngineColly = "colly"
)

// FetchConf 控制消息源抓取: 超时、重试、并发与限速。
type FetchConf struct {
	Engine                 string   `ini:"engine" json:"engine" yaml:"engine"`
	TimeoutSeconds         int      `ini:"timeout_seconds" json:"timeout_seconds" yaml:"timeout_seconds"`
	MaxAttempts            int      `ini:"max_attempts" json:"max_attempts" yaml:"max_attempts"`
	BackoffBaseMillis      int      `ini:"backoff_base_ms" json:"backoff_base_ms" yaml:"backoff_base_ms"`
	MaxBackoffSeconds      int      `ini:"max_backoff_seconds" json:"max_backoff_seconds" yaml:"max_backoff_seconds"`
	Workers                int      `ini:"workers" json:"workers" yaml:"workers"`
	RateLimitCalls         int      `ini:"rate_limit_calls" json:"rate_limit_calls" yaml:"rate_limit_calls"`
	RateLimitPeriodSeconds int      `ini:"rate_limit_period_seconds" json:"rate_limit_period_seconds" yaml:"rate_limit_period_seconds"`
	UserAgent              string   `ini:"user_agent" json:"user_agent" yaml:"user_agent"`
	ProxyURL               string   `ini:"proxy_url" json:"proxy_url" yaml:"proxy_url"` // e.g. socks5://127.0.0.1:1080
	Selectors              []string `ini:"selectors" json:"selectors" yaml:"selectors" delim:";"`
}

// GeoConf 控制 IP 地理位置查询。
type GeoConf struct {
	TimeoutSeconds   int      `ini:"timeout_seconds" json:"timeout_seconds" yaml:"timeout_seconds"`
	Providers        []string `ini:"providers" json:"providers" yaml:"providers" delim:","`
	GeoIPDatabase    string   `ini:"geoip_database" json:"geoip_database" yaml:"geoip_database"` // optional MaxMind .mmdb
	ResolveHostnames bool     `ini:"resolve_hostnames" json:"resolve_hostnames" yaml:"resolve_hostnames"`
}

// PublishConf controls uploading the region files to a Telegram channel.
// The bot token and channel id come from the environment, never from this file.
type PublishConf struct {
	Enabled         bool   `ini:"enabled" json:"enabled" yaml:"enabled"`
	APIEndpoint     string `ini:"api_endpoint" json:"api_endpoint" yaml:"api_endpoint"`
	IncludeCombined bool   `ini:"include_combined" json:"include_combined" yaml:"include_combined"`
}

// MetricsConf contains metrics export configuration.
type MetricsConf struct {
	Textfile string `ini:"textfile" json:"textfile" yaml:"textfile"`
}

// LogConf contains logging specific configuration
type LogConf struct {
	Level   string `ini:"level" json:"level" yaml:"level"`
	NoColor bool   `ini:"no_color" json:"no_color" yaml:"no_color"`
}

// Secrets are read from the environment only.
type Secrets struct {
	TelegramToken string
	ChannelID     string
}

// Config 是 collector 的统一配置结构体。顶层字段沿用 config.json 的原有键名。
type Config struct {
	TelegramURLs     []string `ini:"telegram_urls" json:"telegram_urls" yaml:"telegram_urls" delim:","`
	ConfigFolder     string   `ini:"config_folder" json:"config_folder" yaml:"config_folder"`
	AllConfigsFolder string   `ini:"all_configs_folder" json:"all_configs_folder" yaml:"all_configs_folder"`
	ValidProtocols   []string `ini:"valid_protocols" json:"valid_protocols" yaml:"valid_protocols" delim:","`
	RetentionDays    int      `ini:"retention_days" json:"retention_days" yaml:"retention_days"`
	WriteMode        string   `ini:"write_mode" json:"write_mode" yaml:"write_mode"`

	FetchConf   `ini:"fetch" json:"fetch" yaml:"fetch"`
	GeoConf     `ini:"geo" json:"geo" yaml:"geo"`
	PublishConf `ini:"publish" json:"publish" yaml:"publish"`
	MetricsConf `ini:"metrics" json:"metrics" yaml:"metrics"`
	LogConf     `ini:"log" json:"log" yaml:"log"`

	Secrets Secrets `ini:"-" json:"-" yaml:"-"`
}

// DefaultProviders is the built-in geolocation provider priority order.
var DefaultProviders = []string{"ipapi.co", "ipwho.is", "geoplugin", "ipbase"}

// DefaultConfig returns a Config populated with the documented defaults.
// Feed URLs, protocols and folders have no default and must come from the file.
func DefaultConfig() *Config {
	return &Config{
		RetentionDays: 7,
		WriteMode:     WriteModeReplace,
		FetchConf: FetchConf{
			Engine:                 EngineHTTP,
			TimeoutSeconds:         10,
			MaxAttempts:            3,
			BackoffBaseMillis:      1000,
			MaxBackoffSeconds:      30,
			Workers:                10,
			RateLimitCalls:         10,
			RateLimitPeriodSeconds: 60,
			UserAgent:              "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36",
		},
		GeoConf: GeoConf{
			TimeoutSeconds:   5,
			Providers:        append([]string(nil), DefaultProviders...),
			ResolveHostnames: true,
		},
		PublishConf: PublishConf{
			Enabled: true,
		},
		LogConf: LogConf{
			Level: "info",
		},
	}
}
