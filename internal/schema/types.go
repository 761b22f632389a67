package schema

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"strings"
	"sync/atomic"

	"harvest/internal/logging"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// KeywordType is the index type used when nothing better is known.
const KeywordType = "keyword"

// defaultTypes maps PDS4 dictionary value types to index types. Lookup is
// case-insensitive, so keys are stored lower case.
var defaultTypes = map[string]string{
	"ascii_real":                    "double",
	"ascii_integer":                 "long",
	"ascii_nonnegative_integer":     "long",
	"ascii_numeric_base2":           "keyword",
	"ascii_numeric_base8":           "keyword",
	"ascii_numeric_base16":          "keyword",
	"ascii_boolean":                 "boolean",
	"ascii_date_time_ymd":           "date",
	"ascii_date_time_ymd_utc":       "date",
	"ascii_date_time_doy":           "date",
	"ascii_date_time_doy_utc":       "date",
	"ascii_date_ymd":                "date",
	"ascii_date_doy":                "date",
	"ascii_date_time":               "date",
	"ascii_date_time_utc":           "date",
	"ascii_short_string_collapsed":  "keyword",
	"ascii_short_string_preserved":  "keyword",
	"ascii_text_collapsed":          "text",
	"ascii_text_preserved":          "text",
	"utf8_short_string_collapsed":   "keyword",
	"utf8_short_string_preserved":   "keyword",
	"utf8_text_collapsed":           "text",
	"utf8_text_preserved":           "text",
	"ascii_anyuri":                  "keyword",
	"ascii_lid":                     "keyword",
	"ascii_lidvid":                  "keyword",
	"ascii_lidvid_lid":              "keyword",
	"ascii_vid":                     "keyword",
	"ascii_md5_checksum":            "keyword",
	"ascii_directory_path_name":     "keyword",
	"ascii_file_name":               "keyword",
	"ascii_file_specification_name": "keyword",
	"ascii_time":                    "keyword",
	"ascii_dois":                    "keyword",
	"ascii_doi":                     "keyword",
}

// TypeMap resolves dictionary value types to index types. The zero value is
// not usable; use NewTypeMap. Safe for concurrent use; Reload swaps the
// overrides atomically.
type TypeMap struct {
	overrides atomic.Pointer[map[string]string]
}

// NewTypeMap returns a map holding only the built-in defaults.
func NewTypeMap() *TypeMap {
	tm := &TypeMap{}
	empty := map[string]string{}
	tm.overrides.Store(&empty)
	return tm
}

// Lookup returns the index type for a dictionary value type, or
// KeywordType if unknown.
func (tm *TypeMap) Lookup(dictType string) string {
	key := strings.ToLower(strings.TrimSpace(dictType))
	if t, ok := (*tm.overrides.Load())[key]; ok {
		return t
	}
	if t, ok := defaultTypes[key]; ok {
		return t
	}
	return KeywordType
}

// Set replaces the overrides.
func (tm *TypeMap) Set(overrides map[string]string) {
	m := make(map[string]string, len(overrides))
	for k, v := range overrides {
		m[strings.ToLower(k)] = v
	}
	tm.overrides.Store(&m)
}

// Overrides returns a copy of the current overrides.
func (tm *TypeMap) Overrides() map[string]string {
	return maps.Clone(*tm.overrides.Load())
}

// Reload reads "dictType = indexType" lines from path and replaces the
// overrides with them.
func (tm *TypeMap) Reload(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("dotenv")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read data type map %s: %w", path, err)
	}
	m := make(map[string]string)
	for _, key := range v.AllKeys() {
		if t := strings.TrimSpace(v.GetString(key)); t != "" {
			m[key] = t
		}
	}
	tm.Set(m)
	return nil
}

// Watch reloads path whenever it is written or replaced, until ctx is done.
// The file's directory is watched so that editors that replace files by
// rename are seen too.
func (tm *TypeMap) Watch(ctx context.Context, path string, logger *slog.Logger) error {
	logger = logging.Default(logger).With("component", "type-map", "path", path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := tm.Reload(path); err != nil {
				logger.Warn("data type map reload failed, keeping previous map", "error", err)
				continue
			}
			logger.Info("data type map reloaded", "overrides", len(tm.Overrides()))

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("fsnotify error", "error", err)
		}
	}
}
