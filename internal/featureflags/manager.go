// Package featureflags evaluates FEATURE_FLAGS, a comma-separated list of
// name=value pairs such as "live_author_stats=on,trending_v2=25%".
package featureflags

import (
	"hash/fnv"
	"strconv"
	"strings"
)

// Flag names read by the services.
const (
	LiveAuthorStats = "live_author_stats"
)

// defaults apply to known flags the configuration leaves out.
var defaults = map[string]string{
	LiveAuthorStats: "on",
}

type Manager struct {
	flags map[string]string
}

// NewManager parses raw over the defaults. Malformed pairs are skipped.
func NewManager(raw string) *Manager {
	flags := make(map[string]string, len(defaults))
	for k, v := range defaults {
		flags[k] = v
	}
	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		key, value = normalize(key), normalize(value)
		if key == "" || !validValue(value) {
			continue
		}
		flags[key] = value
	}
	return &Manager{flags: flags}
}

// Enabled evaluates name for userID. Values are on/true/1, off/false/0, or
// N% for a rollout that is stable per user; anonymous callers only see 100%.
func (m *Manager) Enabled(name string, userID string) bool {
	if m == nil {
		return false
	}
	value, ok := m.flags[normalize(name)]
	if !ok {
		return false
	}
	switch value {
	case "on", "true", "1":
		return true
	case "off", "false", "0":
		return false
	}

	pct, ok := percent(value)
	switch {
	case !ok || pct <= 0:
		return false
	case pct >= 100:
		return true
	case userID == "":
		return false
	}
	return rolloutBucket(name, userID) < pct
}

// Raw returns a copy of the effective flag values.
func (m *Manager) Raw() map[string]string {
	out := make(map[string]string, len(m.flags))
	for k, v := range m.flags {
		out[k] = v
	}
	return out
}

// Snapshot evaluates every flag for userID.
func (m *Manager) Snapshot(userID string) map[string]bool {
	out := make(map[string]bool, len(m.flags))
	for name := range m.flags {
		out[name] = m.Enabled(name, userID)
	}
	return out
}

func validValue(v string) bool {
	switch v {
	case "on", "true", "1", "off", "false", "0":
		return true
	}
	_, ok := percent(v)
	return ok
}

func percent(v string) (int, bool) {
	raw, ok := strings.CutSuffix(v, "%")
	if !ok {
		return 0, false
	}
	pct, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return pct, true
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func rolloutBucket(name, userID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(normalize(name) + ":" + userID))
	return int(h.Sum32() % 100)
}
