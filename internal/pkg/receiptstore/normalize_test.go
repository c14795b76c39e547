package receiptstore

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 120, A: 255})
		}
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func TestNormalizeKeepsSmallImageSize(t *testing.T) {
	in := encodeJPEG(t, testImage(800, 600))

	out, err := Normalize(bytes.NewReader(in))
	require.NoError(t, err)

	decoded, format, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 800, decoded.Bounds().Dx())
	assert.Equal(t, 600, decoded.Bounds().Dy())
}

func TestNormalizeDownscalesLargeImage(t *testing.T) {
	in := encodeJPEG(t, testImage(3200, 2400))

	out, err := Normalize(bytes.NewReader(in))
	require.NoError(t, err)

	decoded, _, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.LessOrEqual(t, decoded.Bounds().Dx(), maxReceiptEdge)
	assert.LessOrEqual(t, decoded.Bounds().Dy(), maxReceiptEdge)
	// Aspect ratio survives the fit.
	assert.Equal(t, 1600, decoded.Bounds().Dx())
	assert.Equal(t, 1200, decoded.Bounds().Dy())
}

func TestNormalizeConvertsPNGToJPEG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(400, 400)))

	out, err := Normalize(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	_, format, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	_, err := Normalize(bytes.NewReader([]byte("this is not an image")))
	assert.Error(t, err)
}

func TestNormalizeRejectsOversizedUpload(t *testing.T) {
	huge := bytes.Repeat([]byte{0xFF}, maxReceiptBytes+1)

	_, err := Normalize(bytes.NewReader(huge))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestApplyOrientationRotations(t *testing.T) {
	// 30x20 source: width and height swap under the rotating orientations.
	src := testImage(30, 20)

	for _, orientation := range []int{5, 6, 7, 8} {
		out := applyOrientation(src, orientation)
		assert.Equal(t, 20, out.Bounds().Dx(), "orientation %d", orientation)
		assert.Equal(t, 30, out.Bounds().Dy(), "orientation %d", orientation)
	}
	for _, orientation := range []int{1, 2, 3, 4, 0, 9} {
		out := applyOrientation(src, orientation)
		assert.Equal(t, 30, out.Bounds().Dx(), "orientation %d", orientation)
		assert.Equal(t, 20, out.Bounds().Dy(), "orientation %d", orientation)
	}
}

func TestObjectKey(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, "receipts/pay-uuid-1.jpg", cfg.ObjectKey("pay-uuid-1"))
}
