package scraper

import (
	"context"
	"fmt"
	"strings"

	"github.com/gocolly/colly/v2"

	"liuproxy_collector/collector/model"
)

// CollyFetcher 实现了 Fetcher 接口，使用 colly 的 OnHTML 回调提取消息正文。
type CollyFetcher struct {
	opts      Options
	collector *colly.Collector
	selector  string
}

// NewCollyFetcher 创建一个新的 CollyFetcher 实例。
// The base collector holds the shared transport; every attempt runs on a clone
// so callbacks never leak between concurrent fetches.
func NewCollyFetcher(opts Options) (*CollyFetcher, error) {
	opts = opts.withDefaults()

	c := colly.NewCollector(
		colly.UserAgent(opts.UserAgent),
		// Retries visit the same URL again.
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(opts.Timeout)

	transport, err := newTransport(opts.ProxyURL)
	if err != nil {
		return nil, err
	}
	c.WithTransport(transport)

	return &CollyFetcher{
		opts:      opts,
		collector: c,
		selector:  strings.Join(opts.Selectors, ", "),
	}, nil
}

// Name 返回抓取引擎的名称。
func (f *CollyFetcher) Name() string {
	return "colly"
}

// Fetch 执行抓取操作。
func (f *CollyFetcher) Fetch(ctx context.Context, source model.FeedSource) ([]model.ConfigEntry, error) {
	return fetchWithPolicy(ctx, f.Name(), f.opts, source, f.fetchOnce)
}

func (f *CollyFetcher) fetchOnce(ctx context.Context, source model.FeedSource) ([]model.ConfigEntry, error) {
	c := f.collector.Clone()
	c.Context = ctx

	entries := make([]model.ConfigEntry, 0)
	statusCode := 0

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})

	c.OnHTML(f.selector, func(e *colly.HTMLElement) {
		if entry, ok := candidate(e.Text, f.opts.Validator); ok {
			entries = append(entries, entry)
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
	})

	// Async is off, so Visit returns after every callback has run.
	if err := c.Visit(source.String()); err != nil {
		if statusCode != 0 {
			return nil, &StatusError{Code: statusCode}
		}
		return nil, fmt.Errorf("visit: %w", err)
	}
	return entries, nil
}
