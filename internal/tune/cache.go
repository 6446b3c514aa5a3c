package tune

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// cacheFile is the on-disk layout: device id, then operation key.
type cacheFile struct {
	Devices map[string]map[string]Result `yaml:"devices"`
}

// fileCache persists results of several tuners in one YAML file.
type fileCache struct {
	mu   sync.Mutex
	path string
}

// fileCaches shares one fileCache per path so tuners of different devices do
// not overwrite each other's entries.
var fileCaches sync.Map

func newFileCache(path string) *fileCache {
	c, _ := fileCaches.LoadOrStore(filepath.Clean(path), &fileCache{path: path})
	return c.(*fileCache)
}

func (c *fileCache) read() (cacheFile, error) {
	var f cacheFile
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return f, errors.Wrap(err, "reading autotune cache")
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return cacheFile{}, errors.Wrap(err, "parsing autotune cache")
	}
	return f, nil
}

func (c *fileCache) load(deviceID string) (map[string]Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := c.read()
	if err != nil {
		return nil, err
	}
	return f.Devices[deviceID], nil
}

// save replaces the entries of deviceID and keeps those of other devices.
func (c *fileCache) save(deviceID string, results map[string]Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := c.read()
	if err != nil {
		return err
	}
	if f.Devices == nil {
		f.Devices = make(map[string]map[string]Result)
	}
	f.Devices[deviceID] = results

	data, err := yaml.Marshal(&f)
	if err != nil {
		return errors.Wrap(err, "encoding autotune cache")
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return errors.Wrap(err, "creating autotune cache directory")
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "writing autotune cache")
	}
	return errors.Wrap(os.Rename(tmp, c.path), "replacing autotune cache")
}
