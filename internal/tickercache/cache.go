// Package tickercache provides a durable date-to-symbol-list mapping
// with per-day get/put and a retention sweep. It is the only persistence
// the core session trader requires.
package tickercache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const dateLayout = "2006-01-02"

// Cache is the capability the SelectionPipeline depends on.
type Cache interface {
	Save(symbols []string, date time.Time) error
	Load(date time.Time) ([]string, bool)
	Sweep()
}

// FileCache persists one JSON file per date under Dir. Overwrites are
// atomic via create-temp-then-rename, so readers always observe either
// the previous full list or the new one, never a partial write.
type FileCache struct {
	Dir     string
	Enabled bool
}

// NewFileCache creates a cache rooted at dir. When enabled and dir
// doesn't exist, it is created. enabled=false makes every Load report a miss and every Save
// a no-op, per the configuration surface's cache.enabled switch.
func NewFileCache(dir string, enabled bool) (*FileCache, error) {
	if enabled {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("tickercache: create dir: %w", err)
		}
	}
	return &FileCache{Dir: dir, Enabled: enabled}, nil
}

type cachedDay struct {
	Date    string   `json:"date"`
	Symbols []string `json:"symbols"`
}

// Save overwrites any prior entry for date. Saving an empty list is a
// no-op — it never erases an existing cache entry.
func (c *FileCache) Save(symbols []string, date time.Time) error {
	if !c.Enabled {
		return nil
	}
	if len(symbols) == 0 {
		return nil
	}

	key := date.Format(dateLayout)
	payload := cachedDay{Date: key, Symbols: symbols}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("tickercache: marshal: %w", err)
	}

	finalPath := c.pathFor(key)
	tmp, err := os.CreateTemp(c.Dir, "."+key+"-*.tmp")
	if err != nil {
		return fmt.Errorf("tickercache: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("tickercache: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("tickercache: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("tickercache: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("tickercache: rename: %w", err)
	}

	log.Debug().Str("date", key).Int("count", len(symbols)).Msg("ticker cache saved")
	return nil
}

// Load returns the stored symbol list for date, or (nil, false) if the
// entry is absent, the cache is disabled, or the entry fails to parse.
func (c *FileCache) Load(date time.Time) ([]string, bool) {
	if !c.Enabled {
		return nil, false
	}

	key := date.Format(dateLayout)
	data, err := os.ReadFile(c.pathFor(key))
	if err != nil {
		return nil, false
	}

	var day cachedDay
	if err := json.Unmarshal(data, &day); err != nil {
		log.Warn().Str("date", key).Err(err).Msg("ticker cache entry malformed")
		return nil, false
	}

	return day.Symbols, true
}

// Sweep removes every entry strictly older than today (local date).
// Entries whose filename cannot be parsed as a date are retained and
// logged, never deleted.
func (c *FileCache) Sweep() {
	if !c.Enabled {
		return
	}

	today := time.Now().Format(dateLayout)
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		log.Warn().Err(err).Msg("ticker cache sweep: read dir")
		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		key := strings.TrimSuffix(name, ".json")

		parsed, err := time.Parse(dateLayout, key)
		if err != nil {
			log.Warn().Str("file", name).Msg("ticker cache sweep: unparseable filename, retaining")
			continue
		}

		if parsed.Format(dateLayout) < today {
			if err := os.Remove(filepath.Join(c.Dir, name)); err != nil {
				log.Warn().Str("file", name).Err(err).Msg("ticker cache sweep: remove failed")
			}
		}
	}
}

func (c *FileCache) pathFor(key string) string {
	return filepath.Join(c.Dir, key+".json")
}
