package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"liuproxy_collector/internal/shared/types"
)

const (
	EnvTelegramToken = "TELEGRAM_TOKEN"
	EnvChannelID     = "CHANNEL_ID"
	EnvLogLevel      = "COLLECTOR_LOG_LEVEL"
	EnvProxyURL      = "COLLECTOR_PROXY_URL"
)

// ErrMissingSecret is returned when publishing is enabled but the bot token or
// channel id is not present in the environment.
var ErrMissingSecret = errors.New("missing required secret")

var knownProviders = map[string]struct{}{
	"ipapi.co":  {},
	"ipwho.is":  {},
	"geoplugin": {},
	"ipbase":    {},
}

// Load 读取配置文件，按扩展名选择解析器 (.json / .yaml / .yml / .ini)，
// 先填充默认值，再覆盖文件内容，最后校验。
func Load(fileName string) (*types.Config, error) {
	cfg := types.DefaultConfig()

	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".ini":
		if err := loadIni(cfg, fileName); err != nil {
			return nil, err
		}
	case ".yaml", ".yml":
		if err := loadYAML(cfg, fileName); err != nil {
			return nil, err
		}
	default:
		if err := loadJSON(cfg, fileName); err != nil {
			return nil, err
		}
	}

	overrideFromEnv(&cfg.LogConf.Level, EnvLogLevel)
	overrideFromEnv(&cfg.FetchConf.ProxyURL, EnvProxyURL)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", fileName, err)
	}
	return cfg, nil
}

func loadJSON(cfg *types.Config, fileName string) error {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", fileName, err)
	}
	return nil
}

func loadYAML(cfg *types.Config, fileName string) error {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", fileName, err)
	}
	return nil
}

func loadIni(cfg *types.Config, fileName string) error {
	// Selectors use ';' and URLs may carry '#', neither starts a comment here.
	iniFile, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, fileName)
	if err != nil {
		return err
	}
	return iniFile.MapTo(cfg)
}

// Validate checks the settings that would otherwise fail halfway through a run.
func Validate(cfg *types.Config) error {
	if len(nonEmpty(cfg.TelegramURLs)) == 0 {
		return fmt.Errorf("telegram_urls must not be empty")
	}
	if len(nonEmpty(cfg.ValidProtocols)) == 0 {
		return fmt.Errorf("valid_protocols must not be empty")
	}
	if strings.TrimSpace(cfg.ConfigFolder) == "" {
		return fmt.Errorf("config_folder is required")
	}
	if strings.TrimSpace(cfg.AllConfigsFolder) == "" {
		return fmt.Errorf("all_configs_folder is required")
	}
	if containsPath(cfg.ConfigFolder, cfg.AllConfigsFolder) {
		return fmt.Errorf("all_configs_folder must not be config_folder or inside it, the region tree is reset every run")
	}
	if cfg.RetentionDays < 0 {
		return fmt.Errorf("retention_days must be non-negative")
	}
	switch cfg.WriteMode {
	case types.WriteModeReplace, types.WriteModeAppend:
	default:
		return fmt.Errorf("unknown write_mode %q", cfg.WriteMode)
	}

	f := cfg.FetchConf
	switch f.Engine {
	case types.EngineHTTP, types.EngineColly:
	default:
		return fmt.Errorf("unknown fetch.engine %q", f.Engine)
	}
	if f.TimeoutSeconds <= 0 || f.MaxAttempts <= 0 || f.Workers <= 0 {
		return fmt.Errorf("fetch.timeout_seconds, fetch.max_attempts and fetch.workers must be positive")
	}
	if f.RateLimitCalls <= 0 || f.RateLimitPeriodSeconds <= 0 {
		return fmt.Errorf("fetch.rate_limit_calls and fetch.rate_limit_period_seconds must be positive")
	}
	if f.BackoffBaseMillis < 0 || f.MaxBackoffSeconds < 0 {
		return fmt.Errorf("fetch backoff values must be non-negative")
	}

	if cfg.GeoConf.TimeoutSeconds <= 0 {
		return fmt.Errorf("geo.timeout_seconds must be positive")
	}
	for _, p := range cfg.GeoConf.Providers {
		if _, ok := knownProviders[strings.TrimSpace(p)]; !ok {
			return fmt.Errorf("unknown geo provider %q", p)
		}
	}
	return nil
}

// LoadSecrets 从环境变量读取 bot token 与频道 ID。如果 envFile 存在，先用
// godotenv 加载它 (已存在的环境变量优先)。
// Secrets are only required when publishing is enabled.
func LoadSecrets(cfg *types.Config, envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	cfg.Secrets = types.Secrets{
		TelegramToken: strings.TrimSpace(os.Getenv(EnvTelegramToken)),
		ChannelID:     strings.TrimSpace(os.Getenv(EnvChannelID)),
	}

	if !cfg.PublishConf.Enabled {
		return nil
	}
	if cfg.Secrets.TelegramToken == "" {
		return fmt.Errorf("%w: %s", ErrMissingSecret, EnvTelegramToken)
	}
	if cfg.Secrets.ChannelID == "" {
		return fmt.Errorf("%w: %s", ErrMissingSecret, EnvChannelID)
	}
	return nil
}

func overrideFromEnv(target *string, envName string) {
	if envValue := strings.TrimSpace(os.Getenv(envName)); envValue != "" {
		*target = envValue
	}
}

// containsPath reports whether target is root or lies under it.
func containsPath(root, target string) bool {
	r, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	t, err := filepath.Abs(target)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(r, t)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
