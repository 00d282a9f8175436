// Package blob stores comic images on disk, one file per comic number under
// a configured root directory. The filesystem is the only cache; callers
// downsample for display themselves.
package blob

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"

	// Image formats the dimension probe understands. The feed serves png,
	// jpeg, and the occasional gif; webp and bmp come from x/image.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/omholt/munroe"
)

// Store is an explicitly constructed blob directory. Instantiate once at
// process start and inject it; there is no package-level default.
type Store struct {
	dir string
}

// New creates the blob directory if needed and returns a store rooted there.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating blob directory: %v", munroe.ErrStorage, err)
	}

	return &Store{dir: dir}, nil
}

// Path returns the on-disk location for a comic's image, whether or not it
// exists yet. The presentation layer loads and downsamples from here.
func (s *Store) Path(id int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d.png", id))
}

// Save writes the raw image bytes for a comic, overwriting any existing
// blob for that number.
func (s *Store) Save(data []byte, id int) error {
	if err := os.WriteFile(s.Path(id), data, 0o644); err != nil {
		return fmt.Errorf("%w: writing blob for comic %d: %v", munroe.ErrStorage, id, err)
	}

	return nil
}

// Load reads the stored image bytes for a comic. Returns munroe.ErrNotFound
// if no blob exists for that number.
func (s *Store) Load(id int) ([]byte, error) {
	data, err := os.ReadFile(s.Path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("blob for comic %d: %w", id, munroe.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading blob for comic %d: %v", munroe.ErrStorage, id, err)
	}

	return data, nil
}

// Dimensions decodes just enough of the image to report its pixel size.
func Dimensions(data []byte) (width, height float64, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: decoding image: %v", munroe.ErrDecode, err)
	}

	return float64(cfg.Width), float64(cfg.Height), nil
}
