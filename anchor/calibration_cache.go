package anchor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// DefaultCalibrationCachePath is the default path for persisted scale calibrations
const DefaultCalibrationCachePath = ".calibration-cache.json"

// CalibrationCache stores the last accepted scale calibration per subject so a
// restarted service does not begin every subject at the default scale.
type CalibrationCache struct {
	Subjects    map[string]ScaleCalibration `json:"subjects"`
	LastUpdated int64                       `json:"lastUpdated"`
}

// LoadCalibrationCache loads a calibration cache from a JSON file.
// A missing file is not an error; it returns nil, nil.
func LoadCalibrationCache(path string) (*CalibrationCache, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading calibration cache: %w", err)
	}

	var cache CalibrationCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, fmt.Errorf("parsing calibration cache: %w", err)
	}
	if cache.Subjects == nil {
		cache.Subjects = make(map[string]ScaleCalibration)
	}
	return &cache, nil
}

// SaveCalibrationCache writes the cache as indented JSON, creating the parent
// directory if needed.
func SaveCalibrationCache(path string, cache *CalibrationCache) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating calibration directory: %w", err)
	}

	cache.LastUpdated = time.Now().Unix()

	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling calibration cache: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing calibration cache: %w", err)
	}
	return nil
}

// Get returns the stored calibration for a subject.
func (c *CalibrationCache) Get(subjectID string) (ScaleCalibration, bool) {
	if c == nil || c.Subjects == nil {
		return ScaleCalibration{}, false
	}
	cal, ok := c.Subjects[subjectID]
	return cal, ok
}

// Put stores an accepted calibration. Unaccepted values are ignored so a
// fallback never overwrites a real measurement.
func (c *CalibrationCache) Put(subjectID string, cal ScaleCalibration) bool {
	if !cal.Accepted {
		return false
	}
	if c.Subjects == nil {
		c.Subjects = make(map[string]ScaleCalibration)
	}
	c.Subjects[subjectID] = cal
	return true
}

// SubjectIDs returns the cached subject IDs in sorted order.
func (c *CalibrationCache) SubjectIDs() []string {
	if c == nil {
		return nil
	}
	ids := make([]string, 0, len(c.Subjects))
	for id := range c.Subjects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NeedsRecalibration checks if the cache is older than maxAge
func (c *CalibrationCache) NeedsRecalibration(maxAge time.Duration) bool {
	if c == nil || c.LastUpdated == 0 {
		return true
	}
	return time.Since(time.Unix(c.LastUpdated, 0)) > maxAge
}
