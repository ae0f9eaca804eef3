// Package config holds the pipeline configuration and its validation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Pipeline is the JSON config for one batch run.
//
// DSN values may reference environment variables ($VAR); the driver expands
// them, so credentials stay out of config files.
type Pipeline struct {
	Job     string  `json:"job"`
	Source  Source  `json:"source"`
	Storage Storage `json:"storage"`
}

// Source names the two input trees. Both are walked recursively for .json
// files.
type Source struct {
	SongDir string `json:"song_dir"`
	LogDir  string `json:"log_dir"`
}

// Storage selects the backend kind and its DSN.
type Storage struct {
	Kind string `json:"kind"`
	DSN  string `json:"dsn"`
}

// Load reads and decodes a pipeline config file.
func Load(path string) (Pipeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("config: open: %w", err)
	}
	defer f.Close()

	var p Pipeline
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Pipeline{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return p, nil
}

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding, addressed by a config path like
// "storage.kind".
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

// ValidatePipeline reports everything wrong (or suspicious) about a config.
// It returns all findings rather than stopping at the first, so a bad
// config is fixable in one pass.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	if p.Job == "" {
		issues = append(issues, Issue{SeverityWarning, "job", "job name is empty; metrics will be tagged job:etl"})
	}
	if p.Source.SongDir == "" {
		issues = append(issues, Issue{SeverityError, "source.song_dir", "song_dir is required"})
	}
	if p.Source.LogDir == "" {
		issues = append(issues, Issue{SeverityError, "source.log_dir", "log_dir is required"})
	}
	if p.Storage.Kind == "" {
		issues = append(issues, Issue{SeverityError, "storage.kind", "storage.kind is required (postgres, sqlite, mssql)"})
	}
	if p.Storage.DSN == "" {
		issues = append(issues, Issue{SeverityError, "storage.dsn", "storage.dsn is required"})
	}

	return issues
}
