package device

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// cacheFilePerm is the mode for the persisted cache file.
const cacheFilePerm = 0o600

// cacheDocument is the on-disk shape of the device cache.
// Format stability matters for diffability: the document is written with
// 2-space indentation and deterministic ordering.
type cacheDocument struct {
	Devices []Snapshot `json:"devices"`
}

// cacheFile handles the JSON persistence of the snapshot cache.
// Writes go to a temporary file in the same directory followed by an
// atomic rename, so a crash never leaves a truncated cache behind.
type cacheFile struct {
	path string
	log  Logger

	// mu serializes writers so concurrent saves cannot interleave their
	// temp-file/rename pairs.
	mu sync.Mutex
}

// load reads and normalizes the cached snapshots. A missing file is not
// an error: it returns (nil, nil) and the cache starts empty.
func (c *cacheFile) load() (map[string]Snapshot, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cache: %w", err)
	}

	var doc cacheDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing cache: %w", err)
	}

	// Normalize every entry's id and address; the last entry per
	// normalized id wins.
	cache := make(map[string]Snapshot, len(doc.Devices))
	for _, snap := range doc.Devices {
		if snap.ID == "" {
			continue
		}
		snap.ID = NormalizeID(snap.ID)
		snap.Address = NormalizeID(snap.Address)
		if snap.Address == "" {
			snap.Address = snap.ID
		}
		cache[snap.ID] = snap
	}
	return cache, nil
}

// save writes the cache atomically: temp file in the target directory,
// then rename over the destination.
func (c *cacheFile) save(cache map[string]Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(cache))
	for id := range cache {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	doc := cacheDocument{Devices: make([]Snapshot, 0, len(ids))}
	for _, id := range ids {
		doc.Devices = append(doc.Devices, cache[id])
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cache: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, cacheFilePerm); err != nil {
		return fmt.Errorf("writing temp cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("replacing cache: %w", err)
	}
	return nil
}
