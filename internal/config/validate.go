package config

import (
	"log/slog"
	"reflect"
	"slices"
	"sort"
	"time"

	"github.com/l0p7/swkit/internal/swerr"
)

// ValidateInput checks a worker option bag against the recognised keys and
// returns every problem found. Problems are logged as warnings when logger
// is non-nil; they never abort loading.
func ValidateInput(input map[string]any, logger *slog.Logger) []error {
	var problems []error
	keys := make([]string, 0, len(input))
	for key := range input {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := input[key]
		if want, ok := swerr.Types[key]; !ok {
			problems = append(problems, swerr.UnknownKey(key, keys))
		} else if kindOf(value) != want {
			problems = append(problems, swerr.ExpectedType(key, ""))
		}
		if key == "offline" || key == "precache" {
			if !isList(value) {
				problems = append(problems, swerr.ExpectedArrayOfType(key, "string"))
			}
		}
		if allowed, ok := swerr.Enums[key]; ok {
			s, isString := value.(string)
			if !isString || !slices.Contains(allowed, s) {
				problems = append(problems, swerr.EnumerableException(key))
			}
		}
	}

	if logger != nil {
		for _, err := range problems {
			logger.Warn("invalid worker option", slog.Any("error", err))
		}
	}
	return problems
}

// kindOf names the option kind of v: string, number, boolean or object.
// Lists count as objects.
func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return "number"
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return "object"
	}
	return "unknown"
}

func isList(v any) bool {
	if v == nil {
		return false
	}
	k := reflect.ValueOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

// applyOptions folds the valid members of worker.options into the typed
// worker config. Invalid members were already reported by ValidateInput.
func applyOptions(w *WorkerConfig) {
	opts := w.Options
	if len(opts) == 0 {
		return
	}
	if s, ok := opts["shell"].(string); ok && s != "" {
		w.AppShell.Enabled = true
		w.AppShell.Route = s
	}
	if s, ok := opts["cacheName"].(string); ok && s != "" && w.AppShell.CacheName == "" {
		w.AppShell.CacheName = s
	}
	if ms, ok := number(opts["maxAge"]); ok && ms > 0 {
		w.Expiration.MaxAge = (time.Duration(ms) * time.Millisecond).String()
	}
	if ms, ok := number(opts["timeout"]); ok && ms > 0 {
		w.FetchTimeout = (time.Duration(ms) * time.Millisecond).String()
	}
	if list, ok := opts["precache"].([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" && !slices.Contains(w.Precache, s) {
				w.Precache = append(w.Precache, s)
			}
		}
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
