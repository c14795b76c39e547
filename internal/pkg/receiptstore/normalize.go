package receiptstore

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
)

const (
	// maxReceiptBytes bounds how much of a customer upload is read at all.
	maxReceiptBytes = 10 << 20
	// maxReceiptEdge is the longest side kept after downscaling.
	maxReceiptEdge = 1600
	jpegQuality    = 85
)

// Normalize re-encodes a receipt photo for archival: EXIF orientation is
// applied, the image is capped at maxReceiptEdge on its longest side and the
// result is a plain JPEG. Re-encoding drops the EXIF block, so no customer
// device metadata reaches the archive.
func Normalize(r io.Reader) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r, maxReceiptBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading receipt: %w", err)
	}
	if len(raw) > maxReceiptBytes {
		return nil, fmt.Errorf("receipt exceeds %d bytes", maxReceiptBytes)
	}

	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decoding receipt: %w", err)
	}

	img = applyOrientation(img, readOrientation(raw))

	bounds := img.Bounds()
	if bounds.Dx() > maxReceiptEdge || bounds.Dy() > maxReceiptEdge {
		img = imaging.Fit(img, maxReceiptEdge, maxReceiptEdge, imaging.Lanczos)
	}

	var out bytes.Buffer
	if err := imaging.Encode(&out, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("encoding receipt: %w", err)
	}
	return out.Bytes(), nil
}

// readOrientation extracts the EXIF orientation tag. Images without EXIF data
// report the identity orientation.
func readOrientation(raw []byte) int {
	x, err := exif.Decode(bytes.NewReader(raw))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	orientation, err := tag.Int(0)
	if err != nil {
		return 1
	}
	return orientation
}

// applyOrientation maps the eight EXIF orientation values onto the matching
// flip/rotate operations.
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
