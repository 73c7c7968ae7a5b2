package geo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liuproxy_collector/collector/model"
)

// stubProvider returns a fixed answer after an optional delay.
type stubProvider struct {
	name   string
	region string
	err    error
	delay  time.Duration
	calls  atomic.Int32
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Lookup(ctx context.Context, _ string) (string, error) {
	s.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.region, s.err
}

type fakeResolver struct {
	addrs map[string][]net.IPAddr
	calls atomic.Int32
}

func (f *fakeResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	f.calls.Add(1)
	if a, ok := f.addrs[host]; ok {
		return a, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}

func TestExtractHost(t *testing.T) {
	tests := []struct {
		entry   model.ConfigEntry
		want    string
		wantErr bool
	}{
		{entry: "vless://abc@1.2.3.4:443", want: "1.2.3.4"},
		{entry: "ss://x@5.6.7.8:80", want: "5.6.7.8"},
		{entry: "trojan://pw@example.com:443?security=tls#name", want: "example.com"},
		{entry: "vless://uuid@host.example.org/path?x=1", want: "host.example.org"},
		{entry: "trojan://pw@[2001:db8::1]:443", want: "2001:db8::1"},
		{entry: "vless://[2001:db8::2]", want: "2001:db8::2"},
		{entry: "ss://user:pass@10.0.0.1:8388#tag", want: "10.0.0.1"},
		{entry: "vless://nohost-no-port", want: "nohost-no-port"},
		{entry: "vless:abc", wantErr: true},
		{entry: "vless://abc@:443", wantErr: true},
		{entry: "vless://", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(string(tt.entry), func(t *testing.T) {
			got, err := ExtractHost(tt.entry)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoHost)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeRegion(t *testing.T) {
	tests := map[string]struct {
		want string
		ok   bool
	}{
		"US":   {"US", true},
		" nl ": {"NL", true},
		"":     {"", false},
		"USA":  {"", false},
		"U1":   {"", false},
		"../":  {"", false},
	}
	for in, tt := range tests {
		got, ok := normalizeRegion(in)
		assert.Equal(t, tt.ok, ok, in)
		assert.Equal(t, tt.want, got, in)
	}
}

func TestResolveRegion_FallsBackToSecondProvider(t *testing.T) {
	// First provider fails at the HTTP level, second answers with a
	// differently named field.
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer failing.Close()
	working := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/lookup/1.2.3.4", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","country":"nl"}`))
	}))
	defer working.Close()

	g := New([]Provider{
		NewHTTPProvider("first", failing.URL+"/%s", []string{"country_code"}, nil),
		NewHTTPProvider("second", working.URL+"/lookup/%s", []string{"country"}, nil),
	}, Options{Timeout: time.Second})

	region, ok := g.ResolveRegion(context.Background(), "1.2.3.4")
	require.True(t, ok)
	assert.Equal(t, "NL", region)
}

func TestResolveRegion_PriorityOrderWins(t *testing.T) {
	// The first provider is slower but still wins.
	slow := &stubProvider{name: "slow", region: "DE", delay: 50 * time.Millisecond}
	fast := &stubProvider{name: "fast", region: "FR"}

	g := New([]Provider{slow, fast}, Options{Timeout: time.Second})
	region, ok := g.ResolveRegion(context.Background(), "9.9.9.9")
	require.True(t, ok)
	assert.Equal(t, "DE", region)
}

func TestResolveRegion_TimedOutProviderFallsThrough(t *testing.T) {
	hung := &stubProvider{name: "hung", region: "DE", delay: time.Minute}
	backup := &stubProvider{name: "backup", region: "jp"}

	g := New([]Provider{hung, backup}, Options{Timeout: 30 * time.Millisecond})
	start := time.Now()
	region, ok := g.ResolveRegion(context.Background(), "9.9.9.9")
	require.True(t, ok)
	assert.Equal(t, "JP", region)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestResolveRegion_AllProvidersFail(t *testing.T) {
	g := New([]Provider{
		&stubProvider{name: "a", err: errors.New("boom")},
		&stubProvider{name: "b", region: "not-a-code"},
		&stubProvider{name: "c", err: ErrNoRegion},
	}, Options{Timeout: time.Second})

	region, ok := g.ResolveRegion(context.Background(), "1.1.1.1")
	assert.False(t, ok)
	assert.Empty(t, region)
}

func TestResolveRegion_NoProviders(t *testing.T) {
	g := New(nil, Options{})
	_, ok := g.ResolveRegion(context.Background(), "1.1.1.1")
	assert.False(t, ok)
}

func TestResolveRegion_CachesPerHost(t *testing.T) {
	p := &stubProvider{name: "p", region: "US"}
	g := New([]Provider{p}, Options{Timeout: time.Second})

	for i := 0; i < 3; i++ {
		region, ok := g.ResolveRegion(context.Background(), "1.2.3.4")
		require.True(t, ok)
		assert.Equal(t, "US", region)
	}
	assert.EqualValues(t, 1, p.calls.Load())

	// Misses are cached too.
	miss := &stubProvider{name: "miss", err: errors.New("down")}
	g = New([]Provider{miss}, Options{Timeout: time.Second})
	g.ResolveRegion(context.Background(), "5.6.7.8")
	g.ResolveRegion(context.Background(), "5.6.7.8")
	assert.EqualValues(t, 1, miss.calls.Load())
}

func TestResolveRegion_ResolvesHostnames(t *testing.T) {
	var seenIP atomic.Value
	p := &recordingProvider{region: "SG", seen: &seenIP}
	res := &fakeResolver{addrs: map[string][]net.IPAddr{
		"edge.example.com": {{IP: net.ParseIP("2001:db8::5")}, {IP: net.ParseIP("203.0.113.7")}},
	}}

	g := New([]Provider{p}, Options{Timeout: time.Second, ResolveHostnames: true, Resolver: res})
	region, ok := g.ResolveRegion(context.Background(), "edge.example.com")
	require.True(t, ok)
	assert.Equal(t, "SG", region)
	assert.Equal(t, "203.0.113.7", seenIP.Load())

	_, ok = g.ResolveRegion(context.Background(), "missing.example.com")
	assert.False(t, ok)
}

func TestResolveRegion_HostnameResolutionDisabled(t *testing.T) {
	p := &stubProvider{name: "p", region: "US"}
	res := &fakeResolver{}
	g := New([]Provider{p}, Options{Timeout: time.Second, ResolveHostnames: false, Resolver: res})

	_, ok := g.ResolveRegion(context.Background(), "edge.example.com")
	assert.False(t, ok)
	assert.Zero(t, res.calls.Load())
	assert.Zero(t, p.calls.Load())
}

func TestResolveRegion_SkipsGarbageHosts(t *testing.T) {
	res := &fakeResolver{}
	g := New([]Provider{&stubProvider{name: "p", region: "US"}}, Options{ResolveHostnames: true, Resolver: res})

	_, ok := g.ResolveRegion(context.Background(), "eyJhZGQiOiIxLjIuMy40In0=")
	assert.False(t, ok)
	assert.Zero(t, res.calls.Load())
}

func TestResolveRegion_CancelledContext(t *testing.T) {
	p := &stubProvider{name: "p", region: "US"}
	g := New([]Provider{p}, Options{Timeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := g.ResolveRegion(ctx, "1.2.3.4")
	assert.False(t, ok)

	// Not cached after cancellation.
	region, ok := g.ResolveRegion(context.Background(), "1.2.3.4")
	require.True(t, ok)
	assert.Equal(t, "US", region)
}

type recordingProvider struct {
	region string
	seen   *atomic.Value
}

func (r *recordingProvider) Name() string { return "recording" }

func (r *recordingProvider) Lookup(_ context.Context, ip string) (string, error) {
	r.seen.Store(ip)
	return r.region, nil
}

func TestHTTPProvider_NestedField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"data":{"location":{"country":{"alpha2":"CA"}}}}`)
	}))
	defer srv.Close()

	p := NewHTTPProvider("nested", srv.URL+"/?ip=%s", []string{"country_code", "data.location.country.alpha2"}, nil)
	region, err := p.Lookup(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, "CA", region)
}

func TestHTTPProvider_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/empty":
			_, _ = fmt.Fprint(w, `{"ip":"1.2.3.4"}`)
		case "/garbage":
			_, _ = fmt.Fprint(w, `<html>`)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	_, err := NewHTTPProvider("p", srv.URL+"/empty?%s", []string{"country_code"}, nil).Lookup(context.Background(), "1.2.3.4")
	assert.ErrorIs(t, err, ErrNoRegion)

	_, err = NewHTTPProvider("p", srv.URL+"/garbage?%s", []string{"country_code"}, nil).Lookup(context.Background(), "1.2.3.4")
	assert.ErrorContains(t, err, "failed to decode response")

	_, err = NewHTTPProvider("p", srv.URL+"/fail?%s", []string{"country_code"}, nil).Lookup(context.Background(), "1.2.3.4")
	assert.ErrorContains(t, err, "non-200")
}

func TestBuiltinProviders(t *testing.T) {
	providers, err := BuiltinProviders([]string{"ipwho.is", " ipapi.co "}, nil)
	require.NoError(t, err)
	require.Len(t, providers, 2)
	assert.Equal(t, "ipwho.is", providers[0].Name())
	assert.Equal(t, "ipapi.co", providers[1].Name())

	_, err = BuiltinProviders([]string{"ipapi.co", "nope"}, nil)
	assert.ErrorContains(t, err, `unknown geo provider "nope"`)
}

func TestOpenMaxMind_MissingFile(t *testing.T) {
	_, err := OpenMaxMind(t.TempDir() + "/missing.mmdb")
	assert.ErrorContains(t, err, "open geoip database")
}

func TestGeolocator_ProvidersAndClose(t *testing.T) {
	g := New([]Provider{&stubProvider{name: "a"}, &stubProvider{name: "b"}}, Options{})
	assert.Equal(t, []string{"a", "b"}, g.Providers())
	assert.NoError(t, g.Close())
}
