package storage

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"liuproxy_collector/collector/geo"
	"liuproxy_collector/collector/metrics"
	"liuproxy_collector/collector/model"
	"liuproxy_collector/internal/shared/logger"
	"liuproxy_collector/internal/shared/types"
)

const (
	RegionFileName   = "config.txt"
	CombinedFileName = "all_configs.txt"

	DefaultRetention = 7 * 24 * time.Hour
)

// RegionResolver 将主机映射为地区代码, 由 geo.Geolocator 实现。
type RegionResolver interface {
	ResolveRegion(ctx context.Context, host string) (string, bool)
}

// Options 描述输出目录与写入策略。
type Options struct {
	RegionRoot   string
	CombinedRoot string
	Mode         string        // types.WriteModeReplace or types.WriteModeAppend
	Retention    time.Duration // 0 disables purging
	Now          func() time.Time
	Metrics      *metrics.Recorder
}

// OptionsFromConfig maps the top-level config keys onto writer options.
func OptionsFromConfig(cfg *types.Config, rec *metrics.Recorder) Options {
	return Options{
		RegionRoot:   cfg.ConfigFolder,
		CombinedRoot: cfg.AllConfigsFolder,
		Mode:         cfg.WriteMode,
		Retention:    time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		Metrics:      rec,
	}
}

// WriteResult summarises one Write call.
type WriteResult struct {
	RegionCounts  map[string]int
	RegionFiles   []string // sorted by region
	CombinedFile  string
	CombinedCount int // lines in the combined file after the write
	Unresolved    int // valid host, no region
	Skipped       int // no extractable host
	Purged        int
}

// Regions returns the populated regions in sorted order.
func (r *WriteResult) Regions() []string {
	regions := make([]string, 0, len(r.RegionCounts))
	for region := range r.RegionCounts {
		regions = append(regions, region)
	}
	sort.Strings(regions)
	return regions
}

// PartitionWriter 负责把配置按地区写入文件, 并维护汇总文件。
type PartitionWriter struct {
	opts     Options
	resolver RegionResolver
	mu       sync.Mutex
}

// NewPartitionWriter 创建一个新的 PartitionWriter 实例。
func NewPartitionWriter(opts Options, resolver RegionResolver) *PartitionWriter {
	if opts.Mode == "" {
		opts.Mode = types.WriteModeReplace
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &PartitionWriter{
		opts:     opts,
		resolver: resolver,
	}
}

// Write resets the region tree, files every entry under its region and
// rewrites (or extends) the combined file. Entries are handled one at a time
// in sorted order so the output is reproducible.
func (w *PartitionWriter) Write(ctx context.Context, set model.ConfigSet) (*WriteResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	l := logger.WithComponent("Collector/Storage")

	if err := w.resetRegionRoot(); err != nil {
		return nil, err
	}

	result := &WriteResult{RegionCounts: make(map[string]int)}
	files := make(map[string]*regionFile)
	defer func() {
		for _, f := range files {
			_ = f.close()
		}
	}()

	entries := set.Sorted()
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		host, err := geo.ExtractHost(entry)
		if err != nil {
			l.Warn().Err(err).Str("entry", entry.String()).Msg("Skipping config without host.")
			result.Skipped++
			continue
		}

		region, ok := w.resolver.ResolveRegion(ctx, host)
		if !ok {
			result.Unresolved++
			continue
		}

		f, ok := files[region]
		if !ok {
			f, err = w.openRegionFile(region)
			if err != nil {
				l.Error().Err(err).Str("region", region).Msg("Failed to open region file.")
				result.Skipped++
				continue
			}
			files[region] = f
		}
		if err := f.writeLine(entry.String()); err != nil {
			l.Error().Err(err).Str("path", f.path).Str("entry", entry.String()).Msg("Failed to write config.")
			result.Skipped++
			continue
		}
		result.RegionCounts[region]++
		l.Debug().Str("entry", entry.String()).Str("region", region).Msg("Saved config.")
	}

	for _, region := range result.Regions() {
		f := files[region]
		if err := f.close(); err != nil {
			return nil, fmt.Errorf("flush %s: %w", f.path, err)
		}
		delete(files, region)
		result.RegionFiles = append(result.RegionFiles, f.path)
	}
	w.opts.Metrics.RegionEntries(result.RegionCounts)

	combined, count, err := w.writeCombined(entries)
	if err != nil {
		return nil, err
	}
	result.CombinedFile = combined
	result.CombinedCount = count
	l.Info().Str("path", combined).Int("count", count).Msg("Saved all configs.")

	// Files written above carry a fresh mtime, so only leftovers are purged.
	result.Purged = w.purge(w.opts.RegionRoot) + w.purge(w.opts.CombinedRoot)

	l.Info().
		Int("regions", len(result.RegionCounts)).
		Int("unresolved", result.Unresolved).
		Int("skipped", result.Skipped).
		Int("purged", result.Purged).
		Msg("Partition write finished.")
	return result, nil
}

func (w *PartitionWriter) resetRegionRoot() error {
	l := logger.WithComponent("Collector/Storage")
	if _, err := os.Stat(w.opts.RegionRoot); err == nil {
		if err := os.RemoveAll(w.opts.RegionRoot); err != nil {
			return fmt.Errorf("clear region folder %s: %w", w.opts.RegionRoot, err)
		}
		l.Info().Str("path", w.opts.RegionRoot).Msg("Cleared existing folder.")
	}
	if err := os.MkdirAll(w.opts.RegionRoot, 0o755); err != nil {
		return fmt.Errorf("create region folder %s: %w", w.opts.RegionRoot, err)
	}
	return nil
}

func (w *PartitionWriter) openRegionFile(region string) (*regionFile, error) {
	dir := filepath.Join(w.opts.RegionRoot, region)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, RegionFileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &regionFile{path: path, file: file, w: bufio.NewWriter(file)}, nil
}

// writeCombined writes the combined file and returns its path and line count.
func (w *PartitionWriter) writeCombined(entries []model.ConfigEntry) (string, int, error) {
	if err := os.MkdirAll(w.opts.CombinedRoot, 0o755); err != nil {
		return "", 0, fmt.Errorf("create combined folder %s: %w", w.opts.CombinedRoot, err)
	}
	path := filepath.Join(w.opts.CombinedRoot, CombinedFileName)

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	existing := model.NewConfigSet()
	if w.opts.Mode == types.WriteModeAppend {
		var err error
		existing, err = readLines(path)
		if err != nil {
			return "", 0, err
		}
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}

	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("open %s: %w", path, err)
	}
	f := &regionFile{path: path, file: file, w: bufio.NewWriter(file)}

	count := existing.Len()
	for _, entry := range entries {
		if existing.Contains(entry) {
			continue
		}
		if err := f.writeLine(entry.String()); err != nil {
			_ = f.close()
			return "", 0, fmt.Errorf("write %s: %w", path, err)
		}
		count++
	}
	if err := f.close(); err != nil {
		return "", 0, fmt.Errorf("flush %s: %w", path, err)
	}
	return path, count, nil
}

// purge removes regular files under root whose mtime is older than the
// retention window and returns how many were removed.
func (w *PartitionWriter) purge(root string) int {
	if w.opts.Retention <= 0 {
		return 0
	}
	l := logger.WithComponent("Collector/Storage")
	threshold := w.opts.Now().Add(-w.opts.Retention)

	removed := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(threshold) {
			if err := os.Remove(path); err != nil {
				l.Warn().Err(err).Str("path", path).Msg("Failed to remove old config.")
				return nil
			}
			removed++
			l.Info().Str("path", path).Msg("Removed old config.")
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		l.Warn().Err(err).Str("path", root).Msg("Retention purge incomplete.")
	}
	return removed
}

type regionFile struct {
	path string
	file *os.File
	w    *bufio.Writer
}

func (f *regionFile) writeLine(line string) error {
	if _, err := f.w.WriteString(line); err != nil {
		return err
	}
	return f.w.WriteByte('\n')
}

func (f *regionFile) close() error {
	if f.file == nil {
		return nil
	}
	flushErr := f.w.Flush()
	closeErr := f.file.Close()
	f.file = nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// readLines 从文件加载已有配置; 文件不存在时返回空集合。
func readLines(path string) (model.ConfigSet, error) {
	set := model.NewConfigSet()
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return set, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			set.Add(model.ConfigEntry(line))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return set, nil
}
