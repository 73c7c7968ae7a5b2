package geo

import (
	"errors"
	"net"
	"strings"

	"liuproxy_collector/collector/model"
)

// ErrNoHost is returned for entries without a "//" authority or with an empty host.
var ErrNoHost = errors.New("no host in config entry")

// ExtractHost returns the host (domain or IP literal, no port) embedded in a
// config link. The authority is the text between "//" and the next "/";
// userinfo, port, query and fragment are stripped from it.
//
//	vless://uuid@1.2.3.4:443?type=ws#name  ->  1.2.3.4
//	trojan://pw@[2001:db8::1]:443          ->  2001:db8::1
func ExtractHost(entry model.ConfigEntry) (string, error) {
	s := string(entry)
	i := strings.Index(s, "//")
	if i < 0 {
		return "", ErrNoHost
	}
	authority := s[i+2:]
	if j := strings.IndexByte(authority, '/'); j >= 0 {
		authority = authority[:j]
	}
	if j := strings.IndexAny(authority, "?#"); j >= 0 {
		authority = authority[:j]
	}
	if j := strings.LastIndexByte(authority, '@'); j >= 0 {
		authority = authority[j+1:]
	}

	host := authority
	if h, _, err := net.SplitHostPort(authority); err == nil {
		host = h
	} else if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}

	host = strings.TrimSpace(host)
	if host == "" {
		return "", ErrNoHost
	}
	return host, nil
}
