package location

import (
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/CKRainbow/commonBird/internal/ebird"
	"github.com/CKRainbow/commonBird/internal/errors"
	"github.com/CKRainbow/commonBird/internal/logging"
)

var (
	logger          *slog.Logger
	serviceLevelVar = new(slog.LevelVar)
)

func init() {
	var err error
	serviceLevelVar.Set(slog.LevelDebug)
	logger, _, err = logging.NewFileLogger(filepath.Join("logs", "location.log"), "location", serviceLevelVar)
	if err != nil {
		log.Printf("Failed to initialize location file logger: %v", err)
		logger = slog.Default().With("service", "location")
	}
}

// flushEvery is the batch size after which new cache assignments are
// persisted mid-session.
const flushEvery = 10

// Coordinates is a custom coordinate override for a personal location.
type Coordinates struct {
	Lat string `json:"lat"`
	Lng string `json:"lng"`
}

// Assignment is one resolved point: either a hotspot display name, a custom
// coordinate override, or unresolved (both empty). Unresolved entries exist
// only in memory and are pruned on save.
type Assignment struct {
	HotspotName string
	Coords      *Coordinates
}

// Unresolved reports whether the assignment carries no resolution.
func (a *Assignment) Unresolved() bool {
	return a == nil || (a.HotspotName == "" && a.Coords == nil)
}

// MarshalJSON writes a hotspot assignment as a bare string, a coordinate
// override as an object, and an unresolved assignment as null, matching the
// persisted cache schema.
func (a Assignment) MarshalJSON() ([]byte, error) {
	switch {
	case a.HotspotName != "":
		return json.Marshal(a.HotspotName)
	case a.Coords != nil:
		return json.Marshal(a.Coords)
	default:
		return []byte("null"), nil
	}
}

func (a *Assignment) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*a = Assignment{}
		return nil
	}
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*a = Assignment{HotspotName: name}
		return nil
	}
	var coords Coordinates
	if err := json.Unmarshal(data, &coords); err != nil {
		return err
	}
	*a = Assignment{Coords: &coords}
	return nil
}

// AssignmentCache persists point-name resolutions across sessions. Writes
// are batched: every tenth new entry triggers a flush, and Save runs on
// explicit confirm.
type AssignmentCache struct {
	path    string
	mu      sync.Mutex
	entries map[string]Assignment
	pending int
}

// LoadAssignmentCache reads the cache file at path, returning an empty cache
// when the file does not exist yet.
func LoadAssignmentCache(path string) (*AssignmentCache, error) {
	cache := &AssignmentCache{
		path:    path,
		entries: make(map[string]Assignment),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cache, nil
		}
		return nil, errors.New(err).
			Category(errors.CategoryFileIO).
			Context("path", path).
			Component("location").
			Build()
	}

	if err := json.Unmarshal(raw, &cache.entries); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryFileParsing).
			Context("path", path).
			Component("location").
			Build()
	}
	return cache, nil
}

// Get returns the cached assignment for a point name.
func (c *AssignmentCache) Get(pointName string) (Assignment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.entries[pointName]
	return a, ok
}

// Set records an assignment and flushes to disk once enough new entries have
// accumulated.
func (c *AssignmentCache) Set(pointName string, a Assignment) error {
	c.mu.Lock()
	c.entries[pointName] = a
	c.pending++
	flush := c.pending >= flushEvery
	if flush {
		c.pending = 0
	}
	c.mu.Unlock()

	if flush {
		return c.Save()
	}
	return nil
}

// Len returns the number of cached entries, including unresolved ones not
// yet pruned.
func (c *AssignmentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Save prunes unresolved entries and writes the cache to disk.
func (c *AssignmentCache) Save() error {
	c.mu.Lock()
	for name, a := range c.entries {
		if a.Unresolved() {
			delete(c.entries, name)
		}
	}
	raw, err := json.MarshalIndent(c.entries, "", "  ")
	count := len(c.entries)
	c.mu.Unlock()
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Context("path", c.path).
			Component("location").
			Build()
	}

	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.New(err).
				Category(errors.CategoryFileIO).
				Context("path", c.path).
				Component("location").
				Build()
		}
	}
	if err := os.WriteFile(c.path, raw, 0o644); err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Context("path", c.path).
			Component("location").
			Build()
	}

	logger.Debug("assignment cache saved", "path", c.path, "entries", count)
	return nil
}

// Resolver matches report point names against the hotspot snapshot, with
// cache short-circuiting.
type Resolver struct {
	snapshot *ebird.HotspotSnapshot
	cache    *AssignmentCache
}

// NewResolver returns a resolver over a hotspot snapshot and an assignment
// cache.
func NewResolver(snapshot *ebird.HotspotSnapshot, cache *AssignmentCache) *Resolver {
	return &Resolver{snapshot: snapshot, cache: cache}
}

// scoredHotspot pairs a candidate with its match score for stable ordering.
type scoredHotspot struct {
	hotspot ebird.Hotspot
	score   int
}

// SearchHotspots returns hotspots in the report's province whose name
// fuzzy-matches the query above the threshold, best matches first.
func (r *Resolver) SearchHotspots(query, province string) []ebird.Hotspot {
	code, ok := RegionCode(province)
	if !ok {
		logger.Warn("unknown province, skipping hotspot search", "province", province)
		return nil
	}

	var scored []scoredHotspot
	for _, h := range r.snapshot.Region(code) {
		if score := PartialRatio(query, h.Name); score > matchThreshold {
			scored = append(scored, scoredHotspot{hotspot: h, score: score})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].hotspot.Name < scored[j].hotspot.Name
	})

	hotspots := make([]ebird.Hotspot, 0, len(scored))
	for _, s := range scored {
		hotspots = append(hotspots, s.hotspot)
	}
	return hotspots
}

// Resolve returns the cached assignment for a point name, if any.
func (r *Resolver) Resolve(pointName string) (Assignment, bool) {
	return r.cache.Get(pointName)
}

// Assign records a resolution for a point name.
func (r *Resolver) Assign(pointName string, a Assignment) error {
	return r.cache.Set(pointName, a)
}

// Hotspot returns the snapshot record for an assigned hotspot name.
func (r *Resolver) Hotspot(name string) (ebird.Hotspot, bool) {
	h, ok := r.snapshot.Data[name]
	return h, ok
}
