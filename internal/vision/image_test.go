package vision

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

func TestDecodeImage(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 8, 6))

	var jpegBuf bytes.Buffer
	require.NoError(t, jpeg.Encode(&jpegBuf, src, nil))
	var pngBuf bytes.Buffer
	require.NoError(t, png.Encode(&pngBuf, src))

	for name, data := range map[string][]byte{"jpeg": jpegBuf.Bytes(), "png": pngBuf.Bytes()} {
		t.Run(name, func(t *testing.T) {
			img, err := decodeImage(data)
			require.NoError(t, err)
			assert.Equal(t, 8, img.w)
			assert.Equal(t, 6, img.h)
		})
	}

	_, err := decodeImage([]byte("definitely not an image"))
	assert.ErrorIs(t, err, ErrBadImage)
}

func TestToCHWPlaneLayout(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.SetRGBA(0, 0, color.RGBA{R: 255, A: 255})
	img.SetRGBA(1, 0, color.RGBA{G: 255, A: 255})
	img.SetRGBA(0, 1, color.RGBA{B: 255, A: 255})
	img.SetRGBA(1, 1, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	data := toCHW(img, 2, 2, 127.5, 128)
	require.Len(t, data, 12)

	hi := float32(255-127.5) / 128
	lo := float32(0-127.5) / 128

	// Row-major planes: pixels (0,0), (1,0), (0,1), (1,1).
	assert.InDeltaSlice(t, []float32{hi, lo, lo, hi}, data[0:4], 1e-6, "red plane")
	assert.InDeltaSlice(t, []float32{lo, hi, lo, hi}, data[4:8], 1e-6, "green plane")
	assert.InDeltaSlice(t, []float32{lo, lo, hi, hi}, data[8:12], 1e-6, "blue plane")
}

func TestEmbeddingTensorRange(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.SetRGBA(0, 0, color.RGBA{R: 255, A: 255})

	data := embeddingTensor(img, 1, 1)
	require.Len(t, data, 3)
	// std 127.5 maps 255 -> 1.0 and 0 -> -1.0 exactly.
	assert.InDelta(t, 1.0, data[0], 1e-6)
	assert.InDelta(t, -1.0, data[1], 1e-6)
	assert.InDelta(t, -1.0, data[2], 1e-6)
}

func TestResizeNearest(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	src.SetRGBA(0, 0, color.RGBA{R: 200, A: 255})
	src.SetRGBA(3, 3, color.RGBA{B: 200, A: 255})

	dst := resizeNearest(src, 2, 2)
	b := dst.Bounds()
	assert.Equal(t, 2, b.Dx())
	assert.Equal(t, 2, b.Dy())

	r, _, _, _ := dst.At(0, 0).RGBA()
	assert.EqualValues(t, 200, r>>8)

	// Matching size passes the image through untouched.
	assert.Equal(t, image.Image(src), resizeNearest(src, 4, 4))
}

func TestCropRegion(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 100, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			src.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), A: 255})
		}
	}

	t.Run("pads box by margin", func(t *testing.T) {
		crop := cropRegion(src, [4]float32{40, 40, 60, 60})
		require.NotNil(t, crop)
		b := crop.Bounds()
		assert.Equal(t, 25, b.Dx())
		assert.Equal(t, 25, b.Dy())

		r, g, _, _ := crop.At(0, 0).RGBA()
		assert.EqualValues(t, 37, r>>8)
		assert.EqualValues(t, 37, g>>8)
	})

	t.Run("clamps to image bounds", func(t *testing.T) {
		crop := cropRegion(src, [4]float32{0, 0, 10, 10})
		require.NotNil(t, crop)
		b := crop.Bounds()
		assert.Equal(t, 11, b.Dx())
		assert.Equal(t, 11, b.Dy())

		r, g, _, _ := crop.At(0, 0).RGBA()
		assert.EqualValues(t, 0, r>>8)
		assert.EqualValues(t, 0, g>>8)
	})

	t.Run("degenerate boxes return nil", func(t *testing.T) {
		assert.Nil(t, cropRegion(src, [4]float32{50, 50, 50, 60}), "zero width")
		assert.Nil(t, cropRegion(src, [4]float32{60, 50, 40, 60}), "inverted")
		assert.Nil(t, cropRegion(src, [4]float32{200, 200, 300, 300}), "outside image")
	})
}

func TestNormalize(t *testing.T) {
	v := []float32{3, 4}
	normalize(v)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := []float32{0, 0, 0}
	normalize(zero)
	assert.Equal(t, []float32{0, 0, 0}, zero)
}
