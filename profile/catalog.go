package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/labiium/pytestlab/internal/labsterr"
)

// Catalog resolves a profile reference — either a namespaced key like
// "keysight/DSOX1204G" looked up under a catalog root, or an absolute file
// path — into a loaded Spec. The filesystem is abstracted behind afero.Fs
// so catalog resolution is testable against an in-memory tree without
// touching disk, the same seam a hardware-free CI run needs for every other
// disk-backed lookup in this codebase.
type Catalog struct {
	fs     afero.Fs
	root   string
	logger *slog.Logger
}

// NewCatalog constructs a Catalog rooted at root, using fs for all file
// access. Pass afero.NewOsFs() for a real catalog directory, or
// afero.NewMemMapFs() in tests.
func NewCatalog(fs afero.Fs, root string, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &Catalog{fs: fs, root: root, logger: logger}
}

// NewOSCatalog is a convenience constructor for the common case of a real
// catalog directory on the local filesystem.
func NewOSCatalog(root string, logger *slog.Logger) *Catalog {
	return NewCatalog(afero.NewOsFs(), root, logger)
}

// Resolve loads the profile named by ref. An absolute path is read
// directly; any other ref, including one containing a path separator, is
// resolved as "<root>/<ref>.yaml" under the catalog.
func (c *Catalog) Resolve(ref string) (*Spec, error) {
	path := ref
	if !filepath.IsAbs(ref) {
		path = filepath.Join(c.root, ref+".yaml")
	}

	f, err := c.fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, labsterr.NewProfileError("Catalog.Resolve", fmt.Sprintf("profile reference %q not found (looked at %s)", ref, path), err)
		}
		return nil, labsterr.NewProfileError("Catalog.Resolve", fmt.Sprintf("profile reference %q: %s", ref, err.Error()), err)
	}
	defer f.Close()

	c.logger.Debug("profile: resolving catalog reference", "ref", ref, "path", path)
	return Load(f, path, c.logger)
}

// List returns the namespaced keys of every profile under the catalog
// root, for the non-dispatched `bench ls` behavioral contract's backing
// logic.
func (c *Catalog) List() ([]string, error) {
	var keys []string
	err := afero.Walk(c.fs, c.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if filepath.Ext(path) != ".yaml" && filepath.Ext(path) != ".yml" {
			return nil
		}
		rel, err := filepath.Rel(c.root, path)
		if err != nil {
			return err
		}
		key := rel[:len(rel)-len(filepath.Ext(rel))]
		keys = append(keys, filepath.ToSlash(key))
		return nil
	})
	if err != nil {
		return nil, labsterr.NewConfigError("Catalog.List", "walking profile catalog", err)
	}
	return keys, nil
}
