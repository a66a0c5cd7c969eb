package imageutil

import (
	"bytes"
	"fmt"

	"catalogsync-backend/lib/retrier"

	"github.com/disintegration/imaging"
)

type OptimizerOptions struct {
	MaxWidth  int
	MaxHeight int
	Quality   int
}

// Optimizer re-encodes images as bounded jpeg so uploads stay small.
type Optimizer struct {
	opts OptimizerOptions
}

func NewOptimizer(opts OptimizerOptions) *Optimizer {
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = 1200
	}
	if opts.MaxHeight <= 0 {
		opts.MaxHeight = 1200
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = 85
	}
	return &Optimizer{opts: opts}
}

// Optimize decodes raw image bytes, scales the image down to fit the
// configured bounds and returns it as jpeg along with the final
// dimensions. Images already within bounds are only re-encoded.
func (o *Optimizer) Optimize(raw []byte) ([]byte, int, int, error) {
	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, 0, 0, retrier.Permanent(fmt.Errorf("decoding image: %w", err))
	}

	bounds := img.Bounds()
	if bounds.Dx() > o.opts.MaxWidth || bounds.Dy() > o.opts.MaxHeight {
		img = imaging.Fit(img, o.opts.MaxWidth, o.opts.MaxHeight, imaging.Lanczos)
		bounds = img.Bounds()
	}

	var buf bytes.Buffer
	err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(o.opts.Quality))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("encoding image: %w", err)
	}
	return buf.Bytes(), bounds.Dx(), bounds.Dy(), nil
}
