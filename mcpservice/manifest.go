package mcpservice

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
)

// ToolManifest is the on-disk description of which catalog tools a server
// exposes. The manifest lists tools in presentation order; entries for names
// absent from the catalog are skipped with a log line rather than failing
// the whole reload.
//
//	[[tool]]
//	name = "echo"
//	description = "Echo text back"  # optional override
//	enabled = true                   # optional, defaults to true
type ToolManifest struct {
	Tools []ManifestEntry `toml:"tool"`
}

// ManifestEntry selects one catalog tool and optionally overrides its
// listing metadata.
type ManifestEntry struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
	Enabled     *bool  `toml:"enabled"`
}

// LoadToolManifest parses a TOML tool manifest from disk.
func LoadToolManifest(path string) (*ToolManifest, error) {
	var m ToolManifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, fmt.Errorf("parse tool manifest %s: %w", path, err)
	}
	return &m, nil
}

// ManifestTools exposes a manifest-selected subset of a tool catalog as a
// ToolsCapability. The manifest file can be edited while the server runs;
// Run watches it and atomically swaps the advertised set on change, which
// fans out as listChanged to connected sessions.
type ManifestTools struct {
	*ToolsContainer

	path string
	log  *slog.Logger

	mu      sync.Mutex
	catalog map[string]StaticTool
	order   []string
}

// NewManifestTools builds a ManifestTools over the given catalog, applying
// the manifest at path once. Catalog order is preserved for tools the
// manifest enables without reordering.
func NewManifestTools(path string, catalog []StaticTool, log *slog.Logger) (*ManifestTools, error) {
	if log == nil {
		log = slog.Default()
	}
	mt := &ManifestTools{
		ToolsContainer: NewToolsContainer(),
		path:           path,
		log:            log,
		catalog:        make(map[string]StaticTool, len(catalog)),
	}
	for _, def := range catalog {
		name := def.Descriptor.Name
		if _, dup := mt.catalog[name]; dup {
			return nil, fmt.Errorf("duplicate catalog tool %q", name)
		}
		mt.catalog[name] = def
		mt.order = append(mt.order, name)
	}
	if err := mt.reload(context.Background()); err != nil {
		return nil, err
	}
	return mt, nil
}

// reload re-reads the manifest and swaps the advertised tool set.
func (mt *ManifestTools) reload(ctx context.Context) error {
	man, err := LoadToolManifest(mt.path)
	if err != nil {
		return err
	}

	mt.mu.Lock()
	var defs []StaticTool
	for _, entry := range man.Tools {
		if entry.Enabled != nil && !*entry.Enabled {
			continue
		}
		def, ok := mt.catalog[entry.Name]
		if !ok {
			mt.log.Warn("manifest.reload.unknown_tool", slog.String("tool", entry.Name))
			continue
		}
		if entry.Description != "" {
			def.Descriptor.Description = entry.Description
		}
		defs = append(defs, def)
	}
	mt.mu.Unlock()

	mt.Replace(ctx, defs...)
	mt.log.Info("manifest.reload.ok",
		slog.String("path", mt.path),
		slog.Int("tools", len(defs)),
	)
	return nil
}

// Run watches the manifest file for changes until ctx is canceled, reloading
// on every write. The parent directory is watched rather than the file so
// editor save strategies that rename a temp file over the manifest still
// trigger a reload.
func (mt *ManifestTools) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch tool manifest: %w", err)
	}
	defer func() {
		_ = w.Close()
	}()

	dir := filepath.Dir(mt.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(mt.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := mt.reload(ctx); err != nil {
				// Keep serving the previous set on a bad edit.
				mt.log.Warn("manifest.reload.failed", slog.String("err", err.Error()))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			mt.log.Warn("manifest.watch.error", slog.String("err", err.Error()))
		}
	}
}
