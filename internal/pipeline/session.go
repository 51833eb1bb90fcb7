// Package pipeline wires the fetch, convert, resolve and export stages into
// the end-to-end migration flow.
package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/CKRainbow/commonBird/internal/birdreport"
	"github.com/CKRainbow/commonBird/internal/errors"
)

// Session is the persisted state of incremental fetching: the raw reports
// plus the earliest fetch start they are known to cover. An empty coverage
// start means full history.
type Session struct {
	CoverageStart string              `json:"coverage_start"`
	Reports       []birdreport.Report `json:"reports"`
}

// SessionCache persists raw fetched reports between runs so incremental
// refreshes only fetch the dates the cache does not already cover.
type SessionCache struct {
	path string
}

// NewSessionCache returns a cache stored at path.
func NewSessionCache(path string) *SessionCache {
	return &SessionCache{path: path}
}

// Load reads the cached session. A missing file yields an empty session.
// Older cache files hold a bare report array; those load with coverage set
// to the earliest report date, which may refetch a little but never skips.
func (s *SessionCache) Load() (*Session, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Session{}, nil
		}
		return nil, errors.New(err).
			Category(errors.CategoryFileIO).
			Context("path", s.path).
			Component("pipeline").
			Build()
	}

	var session Session
	if err := json.Unmarshal(raw, &session); err == nil {
		return &session, nil
	}

	var reports []birdreport.Report
	if err := json.Unmarshal(raw, &reports); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryFileParsing).
			Context("path", s.path).
			Component("pipeline").
			Build()
	}
	return &Session{CoverageStart: EarliestDate(reports), Reports: reports}, nil
}

// Save writes the session back to disk.
func (s *SessionCache) Save(session *Session) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.New(err).
				Category(errors.CategoryFileIO).
				Context("path", s.path).
				Component("pipeline").
				Build()
		}
	}

	raw, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Context("path", s.path).
			Component("pipeline").
			Build()
	}

	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Context("path", s.path).
			Component("pipeline").
			Build()
	}
	return nil
}

// LatestDate returns the most recent observation date in the cached set, or
// empty when the cache is empty.
func LatestDate(reports []birdreport.Report) string {
	latest := ""
	for i := range reports {
		if date := reports[i].StartDate(); date > latest {
			latest = date
		}
	}
	return latest
}

// EarliestDate returns the oldest observation date in the cached set, or
// empty when the cache is empty.
func EarliestDate(reports []birdreport.Report) string {
	earliest := ""
	for i := range reports {
		if date := reports[i].StartDate(); earliest == "" || date < earliest {
			earliest = date
		}
	}
	return earliest
}
