// Package images provides the executor compressing project images.
package images

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	v1 "github.com/kination/assetflow/api/v1"
	"github.com/kination/assetflow/internal/executor"
	"github.com/kination/assetflow/internal/fileset"
	"github.com/kination/assetflow/internal/toolchain"
)

var log = logf.Log.WithName("images")

// DefaultCacheSize is the number of compressed images kept in memory.
const DefaultCacheSize = 1024

// Executor implements the executor.Executor interface for images
type Executor struct {
	root        string
	compressors map[string]Compressor
	cache       *lru.Cache[string, []byte]

	missingOnce sync.Once
}

// New creates an images executor for the project at root. JPEG compression
// goes through the jpegtran tool when it is installed.
func New(root string, tools *toolchain.Registry) *Executor {
	cache, err := lru.New[string, []byte](DefaultCacheSize)
	if err != nil {
		// only fails for a non-positive size
		panic(err)
	}
	e := &Executor{root: root, cache: cache}
	jpeg := &jpegCompressor{tools: tools, dir: root}
	e.compressors = map[string]Compressor{
		".png":  pngCompressor{},
		".svg":  newSVGCompressor(),
		".jpg":  jpeg,
		".jpeg": jpeg,
	}
	return e
}

// Type returns the task types this executor handles
func (e *Executor) Type() []v1.TaskType {
	return []v1.TaskType{v1.TaskTypeImages}
}

// ClearCache drops every cached compression result.
func (e *Executor) ClearCache() {
	e.cache.Purge()
}

// CacheLen returns the number of cached compression results.
func (e *Executor) CacheLen() int {
	return e.cache.Len()
}

// Execute copies every matched image to Dest. In production each image is
// compressed first and the result kept only when it is smaller.
func (e *Executor) Execute(ctx context.Context, mode v1.Mode, task *v1.TaskSpec) (*executor.Result, error) {
	set := fileset.Set{Include: task.Src, Exclude: task.Exclude}
	files, err := set.Expand(e.root)
	if err != nil {
		return nil, err
	}

	result := &executor.Result{}
	var written, saved int
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := os.ReadFile(filepath.Join(e.root, filepath.FromSlash(file)))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		if mode.IsProduction() {
			compressed, err := e.compress(ctx, file, data)
			if err != nil {
				return nil, err
			}
			saved += len(data) - len(compressed)
			data = compressed
		}

		out := set.Rebase(file, task.Dest)
		changed, err := fileset.WriteFile(e.root, out, data)
		if err != nil {
			return nil, err
		}
		if changed {
			written++
		}
		result.Outputs = append(result.Outputs, out)
	}

	log.Info("Processed images", "task", task.Name, "files", len(files), "written", written, "savedBytes", saved)
	return result, nil
}

// compress returns the smaller of data and its compressed form.
func (e *Executor) compress(ctx context.Context, file string, data []byte) ([]byte, error) {
	ext := strings.ToLower(path.Ext(file))
	c, ok := e.compressors[ext]
	if !ok {
		return data, nil
	}

	sum := sha256.Sum256(data)
	key := ext + ":" + hex.EncodeToString(sum[:])
	if cached, ok := e.cache.Get(key); ok {
		return cached, nil
	}

	compressed, err := c.Compress(ctx, data)
	if errors.Is(err, toolchain.ErrToolNotFound) {
		e.missingOnce.Do(func() {
			log.Info("Image optimizer not installed, copying unchanged", "extension", ext)
		})
		return data, nil
	}
	if err != nil {
		return nil, fmt.Errorf("compress %s: %w", file, err)
	}
	if len(compressed) >= len(data) {
		compressed = data
	}
	e.cache.Add(key, compressed)
	return compressed, nil
}
