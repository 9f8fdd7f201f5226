// Package version implements the advisory update check. The check is
// strictly best-effort: it runs on its own goroutine, is bounded by a
// short timeout, and failure of any kind only suppresses the notice.
package version

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Current is the release of this build.
const Current = "0.1.0"

// registryURL serves {"crate":{"max_version":"…"}} per crate.
const registryURL = "https://crates.io/api/v1/crates/cargo-e"

// checkTimeout bounds the whole lookup.
const checkTimeout = 3 * time.Second

// Info is the result of a completed check.
type Info struct {
	// Latest is the newest published version.
	Latest string

	// Newer reports whether Latest is ahead of Current.
	Newer bool
}

// Check queries the registry once.
func Check(ctx context.Context, client *http.Client) (*Info, error) {
	if client == nil {
		client = http.DefaultClient
	}
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, registryURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "runcrate/"+Current)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry answered %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	latest := gjson.GetBytes(body, "crate.max_version").String()
	if latest == "" {
		return nil, fmt.Errorf("registry answer has no max_version")
	}
	return &Info{Latest: latest, Newer: NewerThan(latest, Current)}, nil
}

// CheckAsync starts the check in the background and logs an advisory
// notice when an update exists. It never blocks or affects the run.
func CheckAsync(ctx context.Context, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	go func() {
		info, err := Check(ctx, nil)
		if err != nil {
			logger.Debug("version check skipped", "error", err)
			return
		}
		if info.Newer {
			logger.Info("newer release available",
				"current", Current, "latest", info.Latest)
		}
	}()
}

// NewerThan reports whether version a is strictly newer than b.
// Comparison is numeric per dotted component; unparsable components
// compare as strings.
func NewerThan(a, b string) bool {
	as := strings.Split(strings.TrimPrefix(a, "v"), ".")
	bs := strings.Split(strings.TrimPrefix(b, "v"), ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		av, bv := part(as, i), part(bs, i)
		an, aerr := strconv.Atoi(av)
		bn, berr := strconv.Atoi(bv)
		switch {
		case aerr == nil && berr == nil:
			if an != bn {
				return an > bn
			}
		default:
			if av != bv {
				return av > bv
			}
		}
	}
	return false
}

func part(parts []string, i int) string {
	if i < len(parts) {
		return parts[i]
	}
	return "0"
}
