package enrich

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const ieeeOUIURL = "http://standards-oui.ieee.org/oui/oui.txt"

// ouiLine matches the registry format "00-00-00   (hex)  XEROX CORPORATION".
var ouiLine = regexp.MustCompile(`(?m)^([0-9A-F]{2}-[0-9A-F]{2}-[0-9A-F]{2})\s+\(hex\)\s+(.*)$`)

// RefreshStore is the repository slice the refresher writes to.
type RefreshStore interface {
	UpsertVendor(ctx context.Context, oui, vendor string) error
	CountVendors(ctx context.Context) (int, error)
}

// Refresher seeds the local vendor cache from the public IEEE OUI
// registry when the cache is empty.
type Refresher struct {
	store  RefreshStore
	client *http.Client
	log    zerolog.Logger
}

// NewRefresher builds a Refresher with a generous download timeout; the
// registry file is tens of megabytes.
func NewRefresher(store RefreshStore, log zerolog.Logger) *Refresher {
	return &Refresher{
		store:  store,
		client: &http.Client{Timeout: 30 * time.Second},
		log:    log.With().Str("component", "oui-refresh").Logger(),
	}
}

// EnsureData downloads the registry only if the cache holds no rows, so
// restarts do not hammer the IEEE server.
func (r *Refresher) EnsureData(ctx context.Context) error {
	n, err := r.store.CountVendors(ctx)
	if err != nil {
		return fmt.Errorf("ensure oui data: %w", err)
	}
	if n > 0 {
		return nil
	}
	r.log.Info().Msg("vendor cache empty, downloading IEEE OUI registry")
	return r.Refresh(ctx)
}

// Refresh downloads and parses the registry, upserting every entry.
func (r *Refresher) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ieeeOUIURL, nil)
	if err != nil {
		return fmt.Errorf("build oui request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("download oui registry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download oui registry: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read oui registry: %w", err)
	}

	count, err := r.load(ctx, string(body))
	if err != nil {
		return err
	}
	r.log.Info().Int("entries", count).Msg("vendor cache updated")
	return nil
}

func (r *Refresher) load(ctx context.Context, content string) (int, error) {
	matches := ouiLine.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return 0, fmt.Errorf("parse oui registry: no entries found")
	}
	for _, m := range matches {
		oui := strings.ToUpper(strings.ReplaceAll(m[1], "-", ":"))
		vendor := strings.TrimSpace(m[2])
		if err := r.store.UpsertVendor(ctx, oui, vendor); err != nil {
			return 0, fmt.Errorf("store oui %s: %w", oui, err)
		}
	}
	return len(matches), nil
}
