// Package config loads service configuration from the environment and the
// collections file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr            string
	LogLevel        string
	CollectionsPath string
	RequestTimeout  time.Duration
	DefaultLimit    int
	MaxLimit        int
}

func FromEnv() Config {
	return Config{
		Addr:            getenv("ADDR", ":8090"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		CollectionsPath: getenv("COLLECTIONS_PATH", "collections.yml"),
		RequestTimeout:  getduration("REQUEST_TIMEOUT", 30*time.Second),
		DefaultLimit:    getint("DEFAULT_LIMIT", 10),
		MaxLimit:        getint("MAX_LIMIT", 10000),
	}
}

// CollectionDef is one collection entry in the collections file.
type CollectionDef struct {
	Name      string `yaml:"name"`
	Entity    string `yaml:"entity"`
	Data      string `yaml:"data"`
	TimeField string `yaml:"timefield"`
	Expand    string `yaml:"expand"`
}

type collectionsFile struct {
	Collections []CollectionDef `yaml:"collections"`
}

// LoadCollections reads and validates the collections file. Every entry
// needs a name, a data URL and an entity.
func LoadCollections(path string) ([]CollectionDef, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read collections file: %w", err)
	}
	var f collectionsFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse collections file: %w", err)
	}
	if len(f.Collections) == 0 {
		return nil, fmt.Errorf("collections file %s defines no collections", path)
	}
	seen := map[string]struct{}{}
	for i, c := range f.Collections {
		if c.Name == "" || c.Data == "" || c.Entity == "" {
			return nil, fmt.Errorf("collection %d: name, data and entity are required", i)
		}
		if _, dup := seen[c.Name]; dup {
			return nil, fmt.Errorf("collection %q defined twice", c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	return f.Collections, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
