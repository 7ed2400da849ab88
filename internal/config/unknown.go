package config

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys are the valid keys of every config section.
var knownKeys = map[string][]string{
	"server":     {"listen_addr", "shutdown_timeout", "files_prefix", "webdav_prefix"},
	"drive":      {"api", "base_directory", "max_items"},
	"cache":      {"control_header"},
	"store":      {"backend", "redis_url", "sqlite_path", "key_prefix"},
	"auth":       {"client_id", "tenant", "scopes"},
	"protection": {"routes", "password_file"},
	"logging":    {"level", "format", "file", "retention_days"},
	"network":    {"request_timeout", "connect_timeout", "user_agent"},
	"metrics":    {"enabled", "path"},
}

// knownSectionsList is the sorted list of section names for Levenshtein
// matching. Sorted for deterministic suggestions when two candidates have
// the same edit distance.
var knownSectionsList = func() []string {
	keys := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error
	for _, key := range undecoded {
		errs = append(errs, unknownKeyError(key))
	}

	return errors.Join(errs...)
}

// unknownKeyError describes an undecoded key, suggesting the closest known
// section or key.
func unknownKeyError(key toml.Key) error {
	section := key[0]

	keys, ok := knownKeys[section]
	if !ok {
		if suggestion := closestMatch(section, knownSectionsList); suggestion != "" {
			return fmt.Errorf("unknown config section %q, did you mean %q?", section, suggestion)
		}

		return fmt.Errorf("unknown config section %q", section)
	}

	if len(key) < 2 {
		return fmt.Errorf("config key %q must be a section", section)
	}

	field := key[1]

	sorted := slices.Sorted(slices.Values(keys))
	if suggestion := closestMatch(field, sorted); suggestion != "" {
		return fmt.Errorf("unknown config key %q in [%s], did you mean %q?", field, section, suggestion)
	}

	return fmt.Errorf("unknown config key %q in [%s]", field, section)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Use single-row optimization to avoid allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = minOf(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// minOf returns the minimum of three integers.
func minOf(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}

	if c < m {
		m = c
	}

	return m
}
