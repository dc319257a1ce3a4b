package capture

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/cjeanneret/CapGo/internal/logic/orientation"
)

// PhotoAdjust describes the corrections applied to a raw still.
type PhotoAdjust struct {
	Width, Height int  // crop target in pixels (preview size * scale); 0 keeps the sensor size
	Mirror        bool // front camera
	Orientation   orientation.Orientation
	Quality       int // JPEG quality (default 95)
}

// AdjustPhoto crops the still to the preview aspect (aspect fill, centred),
// mirrors it for the front camera, then rotates it upright for the
// orientation snapshot.
func AdjustPhoto(raw []byte, adj PhotoAdjust) ([]byte, error) {
	src, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode still: %w", err)
	}
	img := adjustImage(src, adj)

	q := adj.Quality
	if q <= 0 || q > 100 {
		q = 95
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(q)); err != nil {
		return nil, fmt.Errorf("encode still: %w", err)
	}
	return buf.Bytes(), nil
}

func adjustImage(src image.Image, adj PhotoAdjust) image.Image {
	img := src
	if adj.Width > 0 && adj.Height > 0 {
		img = imaging.Fill(img, adj.Width, adj.Height, imaging.Center, imaging.Lanczos)
	}
	if adj.Mirror {
		img = imaging.FlipH(img)
	}
	switch adj.Orientation {
	case orientation.LandscapeLeft:
		img = imaging.Rotate270(img)
	case orientation.LandscapeRight:
		img = imaging.Rotate90(img)
	case orientation.PortraitUpsideDown:
		img = imaging.Rotate180(img)
	}
	return img
}
