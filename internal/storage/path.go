package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var (
	pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)
	unsafeRunePattern    = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)
)

// SnapshotPrefix is the directory holding every snapshot of one catalog
// embedded with one model.
func SnapshotPrefix(catalogName, modelVersion string) (string, error) {
	catalogPart := SanitizeComponent(catalogName)
	if err := validatePathComponent(catalogPart, "catalog name"); err != nil {
		return "", err
	}
	modelPart := SanitizeComponent(modelVersion)
	if err := validatePathComponent(modelPart, "model version"); err != nil {
		return "", err
	}
	return path.Join("embeddings", catalogPart, modelPart) + "/", nil
}

// BuildSnapshotPath names a snapshot so that lexical key order is creation
// order.
func BuildSnapshotPath(catalogName, modelVersion string, createdAt time.Time) (string, error) {
	prefix, err := SnapshotPrefix(catalogName, modelVersion)
	if err != nil {
		return "", err
	}
	ts := createdAt.UTC()
	return prefix + fmt.Sprintf("snapshot-%s-%09d.parquet", ts.Format("20060102T150405"), ts.Nanosecond()), nil
}

// SanitizeComponent replaces characters that are not safe in an object key
// segment, so "ollama/llama3.1:8b" becomes "ollama_llama3.1_8b".
func SanitizeComponent(value string) string {
	value = strings.TrimSpace(value)
	value = unsafeRunePattern.ReplaceAllString(value, "_")
	return strings.Trim(value, "_")
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
