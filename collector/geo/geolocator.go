package geo

import (
	"context"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"liuproxy_collector/collector/metrics"
	"liuproxy_collector/internal/shared/logger"
	"liuproxy_collector/internal/shared/types"
)

const DefaultTimeout = 5 * time.Second

var hostnamePattern = regexp.MustCompile(`^(?i)[a-z0-9]([a-z0-9-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)+$`)

// Resolver is the subset of *net.Resolver used to turn hostnames into IPs.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Options 控制 Geolocator 的查询行为。
type Options struct {
	Timeout          time.Duration // per provider lookup
	ResolveHostnames bool
	Resolver         Resolver
	Metrics          *metrics.Recorder
}

type cachedRegion struct {
	region string
	ok     bool
}

// Geolocator 负责把主机名或 IP 解析为国家代码。
// Providers are queried concurrently but their answers are read in priority
// order, so the result only depends on what each provider returns.
type Geolocator struct {
	providers []Provider
	opts      Options

	mu    sync.Mutex
	cache map[string]cachedRegion
}

// New 创建一个新的 Geolocator 实例。providers 的顺序即优先级。
func New(providers []Provider, opts Options) *Geolocator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Resolver == nil {
		opts.Resolver = net.DefaultResolver
	}
	return &Geolocator{
		providers: providers,
		opts:      opts,
		cache:     make(map[string]cachedRegion),
	}
}

// NewFromConfig builds the provider chain from the geo config section. A
// configured MaxMind database goes first since it needs no network.
func NewFromConfig(cfg types.GeoConf, rec *metrics.Recorder) (*Geolocator, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	providers, err := BuiltinProviders(cfg.Providers, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, err
	}
	if cfg.GeoIPDatabase != "" {
		mm, err := OpenMaxMind(cfg.GeoIPDatabase)
		if err != nil {
			return nil, err
		}
		providers = append([]Provider{mm}, providers...)
	}
	return New(providers, Options{
		Timeout:          timeout,
		ResolveHostnames: cfg.ResolveHostnames,
		Metrics:          rec,
	}), nil
}

// Providers returns the provider names in priority order.
func (g *Geolocator) Providers() []string {
	names := make([]string, 0, len(g.providers))
	for _, p := range g.providers {
		names = append(names, p.Name())
	}
	return names
}

// ResolveRegion returns the upper-case ISO country code for host, or ("", false)
// when no provider knows it. Failure is never an error: callers treat it as an
// unknown region.
func (g *Geolocator) ResolveRegion(ctx context.Context, host string) (string, bool) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", false
	}

	g.mu.Lock()
	if c, ok := g.cache[host]; ok {
		g.mu.Unlock()
		return c.region, c.ok
	}
	g.mu.Unlock()

	region, ok := g.resolve(ctx, host)

	// A cancelled run must not poison the cache with misses.
	if ctx.Err() == nil {
		g.mu.Lock()
		g.cache[host] = cachedRegion{region: region, ok: ok}
		g.mu.Unlock()
	}
	return region, ok
}

func (g *Geolocator) resolve(ctx context.Context, host string) (string, bool) {
	l := logger.WithComponent("Collector/Geo")

	ip := host
	if net.ParseIP(host) == nil {
		if !g.opts.ResolveHostnames || !hostnamePattern.MatchString(host) {
			l.Debug().Str("host", host).Msg("Host is not an IP address, skipping lookup.")
			return "", false
		}
		resolved, err := g.resolveHostname(ctx, host)
		if err != nil {
			l.Warn().Err(err).Str("host", host).Msg("Failed to resolve hostname.")
			return "", false
		}
		ip = resolved
	}

	region, ok := g.lookup(ctx, ip)
	if !ok {
		l.Warn().Str("host", host).Str("ip", ip).Msg("No region found.")
		return "", false
	}
	l.Debug().Str("host", host).Str("ip", ip).Str("region", region).Msg("Region found.")
	return region, true
}

func (g *Geolocator) resolveHostname(ctx context.Context, host string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	addrs, err := g.opts.Resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return "", err
	}
	// Prefer IPv4, not every provider handles v6.
	for _, a := range addrs {
		if a.IP.To4() != nil {
			return a.IP.String(), nil
		}
	}
	if len(addrs) > 0 {
		return addrs[0].IP.String(), nil
	}
	return "", &net.DNSError{Err: "no addresses", Name: host, IsNotFound: true}
}

type lookupResult struct {
	region string
	err    error
}

// lookup fans out to every provider and takes the first usable answer in
// provider order. Slower providers are cancelled once a winner is known.
func (g *Geolocator) lookup(ctx context.Context, ip string) (string, bool) {
	l := logger.WithComponent("Collector/Geo")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]chan lookupResult, len(g.providers))
	for i, p := range g.providers {
		ch := make(chan lookupResult, 1)
		results[i] = ch
		go func(p Provider) {
			pctx, pcancel := context.WithTimeout(ctx, g.opts.Timeout)
			defer pcancel()
			region, err := p.Lookup(pctx, ip)
			ch <- lookupResult{region: region, err: err}
		}(p)
	}

	for i, ch := range results {
		name := g.providers[i].Name()
		var r lookupResult
		select {
		case r = <-ch:
		case <-ctx.Done():
			return "", false
		}

		if r.err != nil {
			l.Debug().Err(r.err).Str("provider", name).Str("ip", ip).Msg("Provider lookup failed.")
			g.opts.Metrics.GeoLookup(name, metrics.ResultFailure)
			continue
		}
		region, ok := normalizeRegion(r.region)
		if !ok {
			l.Debug().Str("provider", name).Str("ip", ip).Str("value", r.region).Msg("Provider returned unusable region.")
			g.opts.Metrics.GeoLookup(name, metrics.ResultMiss)
			continue
		}
		g.opts.Metrics.GeoLookup(name, metrics.ResultSuccess)
		return region, true
	}
	return "", false
}

// normalizeRegion accepts two-letter country codes only; the value becomes a
// directory name, so anything else is rejected.
func normalizeRegion(v string) (string, bool) {
	v = strings.ToUpper(strings.TrimSpace(v))
	if len(v) != 2 {
		return "", false
	}
	for i := 0; i < len(v); i++ {
		if v[i] < 'A' || v[i] > 'Z' {
			return "", false
		}
	}
	return v, true
}

// Close releases providers that hold resources (the MaxMind reader).
func (g *Geolocator) Close() error {
	var firstErr error
	for _, p := range g.providers {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
