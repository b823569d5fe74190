// Package discovery locates the SDL documents contributed by each service.
package discovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const (
	OverallFile    = "overall.graphql"
	UnderlyingFile = "underlying.graphql"
)

type ServiceMetadata struct {
	Name string
	// OverallPath and UnderlyingPath name the documents for error positions.
	// UnderlyingPath is empty when the service has no native schema document.
	OverallPath    string
	UnderlyingPath string
}

// ServiceSDL is the SDL a service contributes. Underlying is empty when the
// native schema is derived from the overall document.
type ServiceSDL struct {
	Overall    string
	Underlying string
}

type Discovery interface {
	ListMetadata(ctx context.Context) ([]*ServiceMetadata, error)
	ReadServiceSDL(ctx context.Context, name string) (*ServiceSDL, error)
}

// FileSystemDiscovery reads <root>/<service>/overall.graphql and the optional
// <root>/<service>/underlying.graphql.
type FileSystemDiscovery struct {
	root  string
	metas map[string]*ServiceMetadata
}

// NewFileSystemDiscovery scans the direct subdirectories of rootDir.
func NewFileSystemDiscovery(ctx context.Context, rootDir string) (*FileSystemDiscovery, error) {
	entries, err := os.ReadDir(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema root %q: %w", rootDir, err)
	}
	d := &FileSystemDiscovery{root: rootDir, metas: make(map[string]*ServiceMetadata)}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(rootDir, entry.Name())
		overall := filepath.Join(dir, OverallFile)
		if _, err := os.Stat(overall); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to stat %q: %w", overall, err)
		}
		meta := &ServiceMetadata{
			Name:        entry.Name(),
			OverallPath: filepath.ToSlash(filepath.Join(entry.Name(), OverallFile)),
		}
		if _, err := os.Stat(filepath.Join(dir, UnderlyingFile)); err == nil {
			meta.UnderlyingPath = filepath.ToSlash(filepath.Join(entry.Name(), UnderlyingFile))
		}
		d.metas[meta.Name] = meta
	}
	if len(d.metas) == 0 {
		return nil, fmt.Errorf("no services found under %q", rootDir)
	}
	return d, nil
}

func (d *FileSystemDiscovery) ListMetadata(ctx context.Context) ([]*ServiceMetadata, error) {
	return sortedMetas(d.metas), nil
}

func (d *FileSystemDiscovery) ReadServiceSDL(ctx context.Context, name string) (*ServiceSDL, error) {
	meta, ok := d.metas[name]
	if !ok {
		return nil, fmt.Errorf("service %q not found", name)
	}
	overall, err := os.ReadFile(filepath.Join(d.root, filepath.FromSlash(meta.OverallPath)))
	if err != nil {
		return nil, fmt.Errorf("failed to read overall SDL for %q: %w", name, err)
	}
	sdl := &ServiceSDL{Overall: string(overall)}
	if meta.UnderlyingPath != "" {
		underlying, err := os.ReadFile(filepath.Join(d.root, filepath.FromSlash(meta.UnderlyingPath)))
		if err != nil {
			return nil, fmt.Errorf("failed to read underlying SDL for %q: %w", name, err)
		}
		sdl.Underlying = string(underlying)
	}
	return sdl, nil
}

type InMemoryService struct {
	Name       string
	Overall    string
	Underlying string
}

// InMemoryDiscovery serves SDL held in memory. Tests build blueprints with it.
type InMemoryDiscovery struct {
	metas    map[string]*ServiceMetadata
	contents map[string]*ServiceSDL
}

func NewInMemoryDiscovery(svcs []InMemoryService) *InMemoryDiscovery {
	d := &InMemoryDiscovery{
		metas:    make(map[string]*ServiceMetadata),
		contents: make(map[string]*ServiceSDL),
	}
	for _, svc := range svcs {
		meta := &ServiceMetadata{Name: svc.Name, OverallPath: svc.Name + "/" + OverallFile}
		if svc.Underlying != "" {
			meta.UnderlyingPath = svc.Name + "/" + UnderlyingFile
		}
		d.metas[svc.Name] = meta
		d.contents[svc.Name] = &ServiceSDL{Overall: svc.Overall, Underlying: svc.Underlying}
	}
	return d
}

func (d *InMemoryDiscovery) ListMetadata(ctx context.Context) ([]*ServiceMetadata, error) {
	return sortedMetas(d.metas), nil
}

func (d *InMemoryDiscovery) ReadServiceSDL(ctx context.Context, name string) (*ServiceSDL, error) {
	sdl, ok := d.contents[name]
	if !ok {
		return nil, fmt.Errorf("service %q not found", name)
	}
	return sdl, nil
}

func sortedMetas(metas map[string]*ServiceMetadata) []*ServiceMetadata {
	out := make([]*ServiceMetadata, 0, len(metas))
	for _, m := range metas {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
