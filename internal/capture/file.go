package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/drowsiness-detection/streaming-client/internal/logger"
	"github.com/drowsiness-detection/streaming-client/pkg/types"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

// FileSource replays still images from a directory in lexical order,
// looping when the end is reached.
type FileSource struct {
	dir  string
	opts Options

	mu     sync.Mutex
	files  []string
	next   int
	seq    uint64
	active bool
}

// NewFileSource creates a source replaying images from dir.
func NewFileSource(dir string, opts Options) *FileSource {
	return &FileSource{
		dir:  dir,
		opts: opts.withDefaults(),
	}
}

// Acquire lists the directory and decodes the first image to verify it.
func (s *FileSource) Acquire(ctx context.Context) error {
	files, err := listImages(s.dir)
	if err != nil {
		return err
	}

	first := files[0]
	if _, err := waitFirstFrame(ctx, s.opts.AcquireTimeout, func() (image.Image, error) {
		img, err := decodeFile(first)
		if err != nil {
			return nil, &AcquisitionError{Reason: ReasonInvalid, Err: err}
		}
		return img, nil
	}); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = files
	s.next = 0
	s.seq = 0
	s.active = true
	logger.Info("Capture", "File source active: %d images from %s", len(files), s.dir)
	return nil
}

// Release deactivates the source and forgets the file list.
func (s *FileSource) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.files = nil
	s.next = 0
}

// Snapshot decodes the next image. Undecodable files are skipped for this tick.
func (s *FileSource) Snapshot() *types.Frame {
	s.mu.Lock()
	if !s.active || len(s.files) == 0 {
		s.mu.Unlock()
		return nil
	}
	path := s.files[s.next]
	s.next = (s.next + 1) % len(s.files)
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	img, err := decodeFile(path)
	if err != nil {
		logger.Warn("Capture", "Skipping %s: %v", filepath.Base(path), err)
		return nil
	}

	return &types.Frame{
		Image:     fit(img, s.opts.Width, s.opts.Height),
		Width:     s.opts.Width,
		Height:    s.opts.Height,
		Seq:       seq,
		Timestamp: time.Now(),
	}
}

// Active reports whether the source is acquired.
func (s *FileSource) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrPermission):
			return nil, &AcquisitionError{Reason: ReasonPermission, Err: err}
		case errors.Is(err, os.ErrNotExist):
			return nil, &AcquisitionError{Reason: ReasonAbsent, Err: err}
		default:
			return nil, &AcquisitionError{Reason: ReasonInvalid, Err: err}
		}
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, &AcquisitionError{Reason: ReasonAbsent, Err: fmt.Errorf("no images in %s", dir)}
	}
	sort.Strings(files)
	return files, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}
