package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"liuproxy_collector/collector/metrics"
	"liuproxy_collector/collector/model"
	"liuproxy_collector/collector/publisher"
	"liuproxy_collector/collector/scraper"
	"liuproxy_collector/collector/storage"
	"liuproxy_collector/internal/shared/logger"
	"liuproxy_collector/internal/shared/types"
)

// DefaultWorkers 是并发抓取的默认上限。
const DefaultWorkers = 10

// Writer persists one run's deduplicated entries.
type Writer interface {
	Write(ctx context.Context, set model.ConfigSet) (*storage.WriteResult, error)
}

// Options 描述一次采集运行所需的依赖。
type Options struct {
	Sources         []model.FeedSource
	Workers         int
	IncludeCombined bool   // also publish the combined file
	MetricsTextfile string // node-exporter textfile path, optional
}

// OptionsFromConfig maps the config onto manager options.
func OptionsFromConfig(cfg *types.Config) Options {
	sources := make([]model.FeedSource, 0, len(cfg.TelegramURLs))
	for _, u := range cfg.TelegramURLs {
		sources = append(sources, model.FeedSource(u))
	}
	return Options{
		Sources:         sources,
		Workers:         cfg.FetchConf.Workers,
		IncludeCombined: cfg.PublishConf.IncludeCombined,
		MetricsTextfile: cfg.MetricsConf.Textfile,
	}
}

// RunReport summarises one pipeline pass.
type RunReport struct {
	RunID     string
	Sources   int
	Unique    int
	Write     *storage.WriteResult // nil when nothing was collected
	Published []string
	Failed    []string // files whose upload failed
	Duration  time.Duration
}

// Manager 是采集模块的总控制器: 抓取 -> 去重 -> 分区写入 -> 发布。
type Manager struct {
	opts      Options
	fetcher   scraper.Fetcher
	writer    Writer
	publisher publisher.Publisher // nil disables publishing
	metrics   *metrics.Recorder
	now       func() time.Time
}

// NewManager 创建并初始化采集管理器。
func NewManager(opts Options, fetcher scraper.Fetcher, writer Writer, pub publisher.Publisher, rec *metrics.Recorder) *Manager {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &Manager{
		opts:      opts,
		fetcher:   fetcher,
		writer:    writer,
		publisher: pub,
		metrics:   rec,
		now:       time.Now,
	}
}

// Aggregate fetches every source through a bounded worker pool and returns the
// union of their entries. A failed source contributes nothing; if all fail the
// result is an empty set.
func (m *Manager) Aggregate(ctx context.Context, sources []model.FeedSource) model.ConfigSet {
	l := logger.WithComponent("Collector/Manager")

	sources = uniqueSources(sources)
	results := make([][]model.ConfigEntry, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Workers)
	for i, src := range sources {
		g.Go(func() error {
			entries, err := m.fetcher.Fetch(gctx, src)
			if err != nil {
				l.Warn().Err(err).Str("source", src.String()).Msg("Fetcher failed.")
				return nil
			}
			l.Debug().Str("source", src.String()).Int("count", len(entries)).Msg("Source done.")
			results[i] = entries
			return nil
		})
	}
	// Tasks never return errors, failures are isolated per source.
	_ = g.Wait()

	set := model.NewConfigSet()
	for _, entries := range results {
		set.Add(entries...)
	}
	m.metrics.UniqueEntries(set.Len())
	l.Info().Int("sources", len(sources)).Int("unique", set.Len()).Msg("Total unique configs fetched.")
	return set
}

// Run executes one full pass of the pipeline.
func (m *Manager) Run(ctx context.Context) (*RunReport, error) {
	start := m.now()
	report := &RunReport{RunID: uuid.NewString()}
	l := logger.WithComponent("Collector/Manager").With().Str("run_id", report.RunID).Logger()
	l.Info().Int("sources", len(m.opts.Sources)).Str("engine", m.fetcher.Name()).Msg("Starting to fetch configs...")

	defer func() {
		report.Duration = m.now().Sub(start)
		m.metrics.RunFinished(report.Duration, m.now())
		if m.opts.MetricsTextfile != "" {
			if err := m.metrics.WriteTextfile(m.opts.MetricsTextfile); err != nil {
				l.Error().Err(err).Str("path", m.opts.MetricsTextfile).Msg("Failed to write metrics textfile.")
			}
		}
	}()

	set := m.Aggregate(ctx, m.opts.Sources)
	report.Sources = len(uniqueSources(m.opts.Sources))
	report.Unique = set.Len()
	if err := ctx.Err(); err != nil {
		return report, err
	}
	if set.Len() == 0 {
		l.Warn().Msg("No configs found.")
		return report, nil
	}

	result, err := m.writer.Write(ctx, set)
	if err != nil {
		return report, fmt.Errorf("write configs: %w", err)
	}
	report.Write = result

	if m.publisher == nil {
		l.Info().Msg("Publishing disabled, configs saved.")
		return report, nil
	}

	files := append([]string(nil), result.RegionFiles...)
	if m.opts.IncludeCombined && result.CombinedFile != "" {
		files = append(files, result.CombinedFile)
	}
	for _, path := range files {
		if err := m.publisher.SendFile(ctx, path); err != nil {
			if errors.Is(err, context.Canceled) {
				return report, err
			}
			l.Error().Err(err).Str("path", path).Msg("Failed to send file.")
			m.metrics.FilePublished(false)
			report.Failed = append(report.Failed, path)
			continue
		}
		m.metrics.FilePublished(true)
		report.Published = append(report.Published, path)
	}

	l.Info().
		Int("published", len(report.Published)).
		Int("failed", len(report.Failed)).
		Msg("Configs saved and sent.")
	return report, nil
}

// uniqueSources drops repeated feed URLs, keeping first-seen order.
func uniqueSources(sources []model.FeedSource) []model.FeedSource {
	seen := make(map[model.FeedSource]struct{}, len(sources))
	out := make([]model.FeedSource, 0, len(sources))
	for _, s := range sources {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
