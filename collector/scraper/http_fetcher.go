package scraper

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"liuproxy_collector/collector/model"
	"liuproxy_collector/internal/shared/logger"
)

// HTTPFetcher 实现了 Fetcher 接口，使用 net/http 请求页面并用 goquery 解析。
type HTTPFetcher struct {
	opts     Options
	client   *http.Client
	selector string
}

// NewHTTPFetcher 创建一个新的 HTTPFetcher 实例。
func NewHTTPFetcher(opts Options) (*HTTPFetcher, error) {
	opts = opts.withDefaults()
	transport, err := newTransport(opts.ProxyURL)
	if err != nil {
		return nil, err
	}
	return &HTTPFetcher{
		opts: opts,
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		selector: strings.Join(opts.Selectors, ", "),
	}, nil
}

// Name 返回抓取引擎的名称。
func (f *HTTPFetcher) Name() string {
	return "http"
}

// Fetch 执行抓取操作。
func (f *HTTPFetcher) Fetch(ctx context.Context, source model.FeedSource) ([]model.ConfigEntry, error) {
	return fetchWithPolicy(ctx, f.Name(), f.opts, source, f.fetchOnce)
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, source model.FeedSource) ([]model.ConfigEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.String(), nil)
	if err != nil {
		return nil, &parseError{err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &parseError{err: err}
	}
	return extractEntries(doc.Find(f.selector), f.opts.Validator), nil
}

// fetchWithPolicy wraps a single-attempt fetch with the shared rate limiter,
// the retry policy, logging and metrics. Both engines go through it.
func fetchWithPolicy(
	ctx context.Context,
	engine string,
	opts Options,
	source model.FeedSource,
	once func(context.Context, model.FeedSource) ([]model.ConfigEntry, error),
) ([]model.ConfigEntry, error) {
	l := logger.WithComponent("Collector/Scraper")

	if err := opts.Limiter.Wait(ctx); err != nil {
		opts.Metrics.FeedFetched(false, 0)
		return []model.ConfigEntry{}, fmt.Errorf("rate limiter wait for %s: %w", source, err)
	}

	l.Debug().Str("source", source.String()).Str("engine", engine).Msg("Fetching feed page...")

	var entries []model.ConfigEntry
	err := opts.Retry.Do(ctx,
		func(attempt int) error {
			found, err := once(ctx, source)
			if err != nil {
				return err
			}
			entries = found
			return nil
		},
		func(attempt int, err error, wait time.Duration) {
			l.Warn().Err(err).Str("source", source.String()).Int("attempt", attempt).Dur("backoff", wait).Msg("Fetch failed, retrying.")
		},
	)
	if err != nil {
		l.Error().Err(err).Str("source", source.String()).Msg("Giving up on feed.")
		opts.Metrics.FeedFetched(false, 0)
		return []model.ConfigEntry{}, fmt.Errorf("fetch %s: %w", source, err)
	}

	l.Info().Int("count", len(entries)).Str("source", source.String()).Msg("Extracted configs.")
	opts.Metrics.FeedFetched(true, len(entries))
	return entries, nil
}
