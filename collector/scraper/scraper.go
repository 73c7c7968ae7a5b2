package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/proxy"

	"liuproxy_collector/collector/metrics"
	"liuproxy_collector/collector/model"
	"liuproxy_collector/collector/validator"
	"liuproxy_collector/internal/shared/types"
)

const (
	DefaultTimeout   = 10 * time.Second
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36"
)

// Message containers on Telegram's public channel preview (t.me/s/<channel>).
var (
	messageTags    = []string{"div", "span", "code"}
	messageClasses = []string{"tgme_widget_message_text", "js-message_text"}
)

// Fetcher 接口定义了从单个消息源页面抓取配置链接的行为。
type Fetcher interface {
	// Fetch 抓取一个页面并返回其中通过校验的配置链接。
	// 重试耗尽时返回空切片和错误，调用方只需记录日志。
	Fetch(ctx context.Context, source model.FeedSource) ([]model.ConfigEntry, error)

	// Name 返回抓取引擎的名称，用于日志记录。
	Name() string
}

// Options are shared by both fetch engines.
type Options struct {
	Validator *validator.Validator
	Limiter   *RateLimiter // shared by every Fetch call in the process
	Retry     RetryPolicy
	Timeout   time.Duration
	UserAgent string
	ProxyURL  string
	Selectors []string
	Metrics   *metrics.Recorder
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if len(o.Selectors) == 0 {
		o.Selectors = DefaultSelectors()
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry = DefaultRetryPolicy()
	}
	return o
}

// OptionsFromConfig maps the fetch section of the config onto Options.
func OptionsFromConfig(cfg types.FetchConf, v *validator.Validator, limiter *RateLimiter, rec *metrics.Recorder) Options {
	return Options{
		Validator: v,
		Limiter:   limiter,
		Retry: RetryPolicy{
			MaxAttempts:       cfg.MaxAttempts,
			BackoffBase:       time.Duration(cfg.BackoffBaseMillis) * time.Millisecond,
			BackoffMultiplier: 2.0,
			MaxBackoff:        time.Duration(cfg.MaxBackoffSeconds) * time.Second,
		},
		Timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
		UserAgent: cfg.UserAgent,
		ProxyURL:  cfg.ProxyURL,
		Selectors: cfg.Selectors,
		Metrics:   rec,
	}
}

// New returns the fetcher for the named engine ("http" or "colly").
func New(engine string, opts Options) (Fetcher, error) {
	switch engine {
	case "", types.EngineHTTP:
		return NewHTTPFetcher(opts)
	case types.EngineColly:
		return NewCollyFetcher(opts)
	default:
		return nil, fmt.Errorf("unknown fetch engine %q", engine)
	}
}

// DefaultSelectors returns every tag/class combination used for message bodies.
func DefaultSelectors() []string {
	out := make([]string, 0, len(messageTags)*len(messageClasses))
	for _, tag := range messageTags {
		for _, class := range messageClasses {
			out = append(out, tag+"."+class)
		}
	}
	return out
}

// extractEntries runs the validator over the trimmed text of every element in
// sel. Duplicates within a page are kept; dedup happens at aggregation.
func extractEntries(sel *goquery.Selection, v *validator.Validator) []model.ConfigEntry {
	entries := make([]model.ConfigEntry, 0)
	sel.Each(func(_ int, s *goquery.Selection) {
		if entry, ok := candidate(s.Text(), v); ok {
			entries = append(entries, entry)
		}
	})
	return entries
}

func candidate(text string, v *validator.Validator) (model.ConfigEntry, bool) {
	text = strings.TrimSpace(text)
	if text == "" || !v.IsValid(text) {
		return "", false
	}
	return model.ConfigEntry(text), true
}

// newTransport builds the HTTP transport for feed fetches. http(s) proxies use
// the standard Proxy hook, anything else (socks5, socks5h) is dialed through
// golang.org/x/net/proxy.
func newTransport(proxyURL string) (*http.Transport, error) {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        20,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	if proxyURL == "" {
		return transport, nil
	}

	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url %q: %w", proxyURL, err)
	}
	switch u.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(u)
	default:
		d, err := proxy.FromURL(u, dialer)
		if err != nil {
			return nil, fmt.Errorf("unsupported proxy url %q: %w", proxyURL, err)
		}
		cd, ok := d.(proxy.ContextDialer)
		if !ok {
			return nil, errors.New("proxy dialer does not support contexts")
		}
		transport.DialContext = cd.DialContext
	}
	return transport, nil
}
