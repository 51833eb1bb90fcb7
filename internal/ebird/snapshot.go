package ebird

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/CKRainbow/commonBird/internal/errors"
)

// greaterChinaCodes are the country-level regions fetched alongside mainland
// subnational regions so location resolution covers all reportable areas.
var greaterChinaCodes = []string{"TW", "HK", "MO"}

// HotspotSnapshot is the persisted hotspot dataset, keyed by hotspot display
// name. Region partitioning happens at lookup time via each record's region
// code.
type HotspotSnapshot struct {
	LastUpdateDate string             `json:"last_update_date"`
	Data           map[string]Hotspot `json:"data"`
}

// Stale reports whether the snapshot is older than maxAge.
func (s *HotspotSnapshot) Stale(maxAge time.Duration) bool {
	updated, err := time.Parse("2006-01-02", s.LastUpdateDate)
	if err != nil {
		return true
	}
	return time.Since(updated) > maxAge
}

// Region returns the hotspots whose subnational1 code (or country code, for
// the country-level pools) matches code. Iteration order is not stable;
// callers that care must sort.
func (s *HotspotSnapshot) Region(code string) []Hotspot {
	var hotspots []Hotspot
	for _, h := range s.Data {
		if h.Subnational1Code == code || h.CountryCode == code {
			hotspots = append(hotspots, h)
		}
	}
	return hotspots
}

// SnapshotStore persists hotspot snapshots as JSON files. A save keeps the
// previous version as a .bak sibling, so one bad refresh never destroys the
// only usable copy.
type SnapshotStore struct {
	dir string
}

// NewSnapshotStore returns a store rooted at dir.
func NewSnapshotStore(dir string) *SnapshotStore {
	return &SnapshotStore{dir: dir}
}

func (s *SnapshotStore) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

func (s *SnapshotStore) bakPath(name string) string {
	return s.path(name) + ".bak"
}

// Load reads a snapshot, falling back to the .bak copy when the primary file
// is missing or unreadable.
func (s *SnapshotStore) Load(name string) (*HotspotSnapshot, error) {
	snap, err := readSnapshot(s.path(name))
	if err == nil {
		return snap, nil
	}
	if bak, bakErr := readSnapshot(s.bakPath(name)); bakErr == nil {
		logger.Warn("snapshot restored from backup", "name", name, "error", err.Error())
		return bak, nil
	}
	return nil, err
}

func readSnapshot(path string) (*HotspotSnapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf("snapshot not found: %s", path).
				Category(errors.CategoryNotFound).
				Context("path", path).
				Component("ebird").
				Build()
		}
		return nil, errors.New(err).
			Category(errors.CategoryFileIO).
			Context("path", path).
			Component("ebird").
			Build()
	}

	var snap HotspotSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryFileParsing).
			Context("path", path).
			Component("ebird").
			Build()
	}
	return &snap, nil
}

// Save writes a snapshot, rotating any existing file to .bak first.
func (s *SnapshotStore) Save(name string, snap *HotspotSnapshot) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Context("dir", s.dir).
			Component("ebird").
			Build()
	}

	path := s.path(name)
	bak := s.bakPath(name)

	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(bak); err != nil && !os.IsNotExist(err) {
			return errors.New(err).
				Category(errors.CategoryFileIO).
				Context("path", bak).
				Component("ebird").
				Build()
		}
		if err := os.Rename(path, bak); err != nil {
			return errors.New(err).
				Category(errors.CategoryFileIO).
				Context("path", path).
				Component("ebird").
				Build()
		}
	}

	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Context("name", name).
			Component("ebird").
			Build()
	}

	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Context("path", path).
			Component("ebird").
			Build()
	}

	logger.Info("snapshot saved",
		"name", name,
		"regions", len(snap.Data),
		"last_update_date", snap.LastUpdateDate)
	return nil
}

// FetchChinaHotspots downloads the full hotspot dataset for mainland China's
// subnational regions plus Taiwan, Hong Kong and Macau, keyed by display
// name.
func FetchChinaHotspots(ctx context.Context, client *Client) (*HotspotSnapshot, error) {
	regions, err := client.GetSubRegions(ctx, "subnational1", "CN")
	if err != nil {
		return nil, err
	}

	codes := make([]string, 0, len(regions)+len(greaterChinaCodes))
	for _, region := range regions {
		codes = append(codes, region.Code)
	}
	codes = append(codes, greaterChinaCodes...)

	data := make(map[string]Hotspot)
	for _, code := range codes {
		hotspots, err := client.GetHotspots(ctx, code)
		if err != nil {
			return nil, err
		}
		for _, h := range hotspots {
			data[h.Name] = h
		}
	}

	return &HotspotSnapshot{
		LastUpdateDate: time.Now().Format("2006-01-02"),
		Data:           data,
	}, nil
}
