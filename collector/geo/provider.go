package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNoRegion means the provider answered but the response carried no country.
var ErrNoRegion = errors.New("no region in response")

// Provider looks up the country of a single IP address.
type Provider interface {
	Name() string
	Lookup(ctx context.Context, ip string) (string, error)
}

// HTTPProvider queries a JSON geolocation API. URLTemplate has a single %s for
// the IP; Fields are tried in order and may be dot paths into nested objects.
type HTTPProvider struct {
	name        string
	urlTemplate string
	fields      []string
	client      *http.Client
}

// NewHTTPProvider creates a provider. A nil client gets a 5s-timeout default;
// the Geolocator applies its own per-lookup deadline on top.
func NewHTTPProvider(name, urlTemplate string, fields []string, client *http.Client) *HTTPProvider {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPProvider{
		name:        name,
		urlTemplate: urlTemplate,
		fields:      fields,
		client:      client,
	}
}

func (p *HTTPProvider) Name() string {
	return p.name
}

func (p *HTTPProvider) Lookup(ctx context.Context, ip string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(p.urlTemplate, ip), nil)
	if err != nil {
		return "", fmt.Errorf("%s: create request: %w", p.name, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "liuproxy-collector/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s: received non-200 status code (%d)", p.name, resp.StatusCode)
	}

	var data map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&data); err != nil {
		return "", fmt.Errorf("%s: failed to decode response: %w", p.name, err)
	}

	for _, field := range p.fields {
		if v, ok := lookupPath(data, field).(string); ok && strings.TrimSpace(v) != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("%s: %w", p.name, ErrNoRegion)
}

func lookupPath(data map[string]any, path string) any {
	var cur any = data
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}

// builtin providers, each with its own response shape.
var builtins = map[string]struct {
	urlTemplate string
	fields      []string
}{
	"ipapi.co":  {"https://ipapi.co/%s/json/", []string{"country_code", "country"}},
	"ipwho.is":  {"http://ipwho.is/%s?output=json", []string{"country_code"}},
	"geoplugin": {"http://www.geoplugin.net/json.gp?ip=%s", []string{"geoplugin_countryCode"}},
	"ipbase":    {"https://api.ipbase.com/v1/json/%s", []string{"country_code"}},
}

// BuiltinProviders returns the named built-in providers in the given order.
func BuiltinProviders(names []string, client *http.Client) ([]Provider, error) {
	out := make([]Provider, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		b, ok := builtins[name]
		if !ok {
			return nil, fmt.Errorf("unknown geo provider %q", name)
		}
		out = append(out, NewHTTPProvider(name, b.urlTemplate, b.fields, client))
	}
	return out, nil
}
