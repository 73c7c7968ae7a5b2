package validator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

var defaultSchemes = []string{"vless", "vmess", "ss", "trojan"}

func TestIsValid(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		want      bool
	}{
		{"vless with host and port", "vless://abc@1.2.3.4:443", true},
		{"ss minimal body", "ss://x", true},
		{"trojan with query keeps prefix match", "trojan://pw@example.com:443?security=tls#name", true},
		{"unknown scheme", "http://example.com", false},
		{"scheme without separator", "vless:abc", false},
		{"empty body", "vless://", false},
		{"body starts outside class", "vless:// abc", false},
		{"leading whitespace", " vless://abc", false},
		{"scheme is case sensitive", "VLESS://abc", false},
		{"scheme prefix of another word", "ssh://host", false},
		{"empty string", "", false},
	}

	v := New(defaultSchemes)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.IsValid(tt.candidate))
		})
	}
}

func TestIsValid_AllAllowedCharacters(t *testing.T) {
	const allowed = "abcxyzABCXYZ0123456789-@:%._+~#="
	v := New(defaultSchemes)
	for _, scheme := range defaultSchemes {
		for _, r := range allowed {
			candidate := scheme + "://" + string(r)
			assert.True(t, v.IsValid(candidate), "expected %q to be valid", candidate)
		}
		assert.True(t, v.IsValid(scheme+"://"+allowed))
	}
}

func TestIsValid_RejectsWithoutAcceptedPrefix(t *testing.T) {
	v := New([]string{"vless"})
	for _, candidate := range []string{
		"vmess://abc",
		"xvless://abc",
		"vles://abc",
		strings.Repeat("a", 64),
		"://abc",
	} {
		assert.False(t, v.IsValid(candidate), "expected %q to be rejected", candidate)
	}
}

func TestNew_EmptyAndMetaSchemes(t *testing.T) {
	assert.False(t, New(nil).IsValid("vless://abc"))
	assert.False(t, New([]string{"", "  "}).IsValid("vless://abc"))

	// Scheme names are quoted, so a dot matches only itself.
	v := New([]string{"a.b"})
	assert.True(t, v.IsValid("a.b://x"))
	assert.False(t, v.IsValid("axb://x"))
}

func TestSchemes_DedupesAndTrims(t *testing.T) {
	v := New([]string{"vless", " vless ", "ss", ""})
	assert.Equal(t, []string{"vless", "ss"}, v.Schemes())
}

func TestPackageIsValid(t *testing.T) {
	assert.True(t, IsValid("ss://x@5.6.7.8:80", defaultSchemes))
	assert.False(t, IsValid("ss://x@5.6.7.8:80", nil))
}

func TestNilValidator(t *testing.T) {
	var v *Validator
	assert.False(t, v.IsValid("vless://abc"))
	assert.Nil(t, v.Schemes())
}
