package media

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true, ".webp": true,
}

type stillFrame struct {
	path   string
	width  int
	height int
}

// DirectorySource replays the still images of a directory in name order,
// looping forever. It stands in for a camera when replaying captured footage.
type DirectorySource struct {
	mu     sync.Mutex
	frames []stillFrame
	next   int
}

func NewDirectorySource(dir string, logger *slog.Logger) (*DirectorySource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	src := &DirectorySource{}
	for _, name := range names {
		path := filepath.Join(dir, name)
		cfg, err := decodeConfig(path)
		if err != nil {
			logger.Warn("Skipping unreadable frame", "path", path, "error", err)
			continue
		}
		src.frames = append(src.frames, stillFrame{path: path, width: cfg.Width, height: cfg.Height})
	}
	if len(src.frames) == 0 {
		return nil, fmt.Errorf("no decodable images in %s", dir)
	}
	logger.Info("Loaded frame directory", "dir", dir, "frames", len(src.frames))
	return src, nil
}

func decodeConfig(path string) (image.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Config{}, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	return cfg, err
}

func (d *DirectorySource) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.frames) > 0
}

func (d *DirectorySource) Dimensions() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.frames) == 0 {
		return 0, 0
	}
	f := d.frames[d.next]
	return f.width, f.height
}

// Len is the number of frames in the loop.
func (d *DirectorySource) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.frames)
}

func (d *DirectorySource) Sample() (image.Image, error) {
	d.mu.Lock()
	f := d.frames[d.next]
	d.next = (d.next + 1) % len(d.frames)
	d.mu.Unlock()

	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("open frame: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode frame %s: %w", f.path, err)
	}
	return img, nil
}
