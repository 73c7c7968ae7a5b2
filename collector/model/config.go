package model

import (
	"sort"
	"strings"
)

// ConfigEntry 是一条经过校验的代理配置链接，形如 "vless://..."。
// 它在校验之后不再被修改，整个模块只把它当作不透明的字符串。
type ConfigEntry string

// Scheme returns the part before "://", or "" when the entry has none.
func (e ConfigEntry) Scheme() string {
	s := string(e)
	if i := strings.Index(s, "://"); i > 0 {
		return s[:i]
	}
	return ""
}

func (e ConfigEntry) String() string {
	return string(e)
}

// FeedSource 是一个待抓取的消息源页面 URL，例如 "https://t.me/s/some_channel"。
type FeedSource string

func (s FeedSource) String() string {
	return string(s)
}

// ConfigSet 按字符串完全相等去重。
type ConfigSet map[ConfigEntry]struct{}

// NewConfigSet builds a set from the given entries.
func NewConfigSet(entries ...ConfigEntry) ConfigSet {
	set := make(ConfigSet, len(entries))
	set.Add(entries...)
	return set
}

// Add inserts entries, ignoring ones already present.
func (s ConfigSet) Add(entries ...ConfigEntry) {
	for _, e := range entries {
		s[e] = struct{}{}
	}
}

// Contains reports whether e is in the set.
func (s ConfigSet) Contains(e ConfigEntry) bool {
	_, ok := s[e]
	return ok
}

func (s ConfigSet) Len() int {
	return len(s)
}

// Sorted returns the entries in lexical order. Writers use it so that the same
// set always produces byte-identical output files.
func (s ConfigSet) Sorted() []ConfigEntry {
	out := make([]ConfigEntry, 0, len(s))
	for e := range s {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
