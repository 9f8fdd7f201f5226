package report

import (
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// HistoryFile is the default run-history file name under the
// runcrate home directory.
const HistoryFile = "history.json"

// DefaultHistoryPath returns ~/.runcrate/history.json, or empty when
// no home directory exists.
func DefaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".runcrate", HistoryFile)
}

// LoadCounts reads the per-target run counts from a history file.
// A missing or unreadable file is an empty history.
func LoadCounts(path string) map[string]int {
	counts := make(map[string]int)
	if path == "" {
		return counts
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return counts
	}
	gjson.GetBytes(data, "targets").ForEach(func(k, v gjson.Result) bool {
		counts[k.String()] = int(v.Get("count").Int())
		return true
	})
	return counts
}

// Record increments the run count and stamps the last-run time for
// each target name, rewriting only the touched keys.
func Record(path string, names []string, when time.Time) error {
	if path == "" || len(names) == 0 {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	for _, name := range names {
		countKey := "targets." + escapeKey(name) + ".count"
		count := gjson.GetBytes(data, countKey).Int() + 1
		if data, err = sjson.SetBytes(data, countKey, count); err != nil {
			return err
		}
		lastKey := "targets." + escapeKey(name) + ".lastRun"
		if data, err = sjson.SetBytes(data, lastKey, when.Format(time.RFC3339)); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// escapeKey protects dots in target names from sjson path splitting.
func escapeKey(name string) string {
	var out []byte
	for i := 0; i < len(name); i++ {
		if name[i] == '.' || name[i] == '*' || name[i] == '?' {
			out = append(out, '\\')
		}
		out = append(out, name[i])
	}
	return string(out)
}
