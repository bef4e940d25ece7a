package corpus

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/0xb-s/fuzzer/internal/utils"
)

// DirGrabber reads every regular file below a directory as one seed
type DirGrabber struct {
	dir string
}

func NewDirGrabber(dir string) *DirGrabber {
	return &DirGrabber{dir}
}

func (g *DirGrabber) Name() string { return "dir:" + g.dir }

func (g *DirGrabber) Grab(ctx context.Context) ([][]byte, error) {
	return readTree(ctx, g.dir)
}

// TarGzGrabber unpacks a corpus blob into a scratch directory and reads it like a DirGrabber
type TarGzGrabber struct {
	blob string
}

func NewTarGzGrabber(blob string) *TarGzGrabber {
	return &TarGzGrabber{blob}
}

func (g *TarGzGrabber) Name() string { return "targz:" + g.blob }

func (g *TarGzGrabber) Grab(ctx context.Context) ([][]byte, error) {
	if !utils.IsTarGz(g.blob) {
		return nil, fmt.Errorf("corpus blob %s is not a valid tar.gz file", g.blob)
	}
	scratch, err := os.MkdirTemp("", "corpus-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	if err := utils.UnpackTarGz(g.blob, scratch); err != nil {
		return nil, err
	}
	return readTree(ctx, scratch)
}

// ForPath picks a TarGzGrabber for gzip blobs and a DirGrabber otherwise
func ForPath(path string) Grabber {
	if info, err := os.Stat(path); err == nil && !info.IsDir() && utils.IsTarGz(path) {
		return NewTarGzGrabber(path)
	}
	return NewDirGrabber(path)
}

func hidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

// readTree returns the files below root in lexical order, skipping hidden entries and oversized files
func readTree(ctx context.Context, root string) ([][]byte, error) {
	var seeds [][]byte
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path != root && hidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > MaxSeedSize {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		seeds = append(seeds, data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus %s: %w", root, err)
	}
	return seeds, nil
}
