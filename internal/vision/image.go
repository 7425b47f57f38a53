package vision

import (
	"bytes"
	"fmt"
	"image"

	_ "image/jpeg"
	_ "image/png"
)

type imageWithSize struct {
	img image.Image
	w   int
	h   int
}

func decodeImage(data []byte) (imageWithSize, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return imageWithSize{}, fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	b := img.Bounds()
	return imageWithSize{img: img, w: b.Dx(), h: b.Dy()}, nil
}

func detectionTensor(img image.Image, targetW, targetH int) []float32 {
	return toCHW(img, targetW, targetH, 127.5, 128.0)
}

func embeddingTensor(img image.Image, targetW, targetH int) []float32 {
	return toCHW(img, targetW, targetH, 127.5, 127.5)
}

// toCHW resizes the image and lays it out as [3][H][W] float32 with
// per-pixel (v - mean) / std normalization, the scheme both models expect.
func toCHW(img image.Image, targetW, targetH int, mean, std float32) []float32 {
	resized := resizeNearest(img, targetW, targetH)
	bounds := resized.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	data := make([]float32, 3*h*w)
	plane := h * w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := resized.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()
			idx := y*w + x
			data[idx] = (float32(r>>8) - mean) / std
			data[plane+idx] = (float32(g>>8) - mean) / std
			data[2*plane+idx] = (float32(b>>8) - mean) / std
		}
	}
	return data
}

// resizeNearest is a nearest-neighbour resize; plenty for model input.
func resizeNearest(img image.Image, targetW, targetH int) image.Image {
	bounds := img.Bounds()
	if bounds.Dx() == targetW && bounds.Dy() == targetH {
		return img
	}

	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	for y := 0; y < targetH; y++ {
		srcY := bounds.Min.Y + y*bounds.Dy()/targetH
		for x := 0; x < targetW; x++ {
			srcX := bounds.Min.X + x*bounds.Dx()/targetW
			dst.Set(x, y, img.At(srcX, srcY))
		}
	}
	return dst
}

// faceMargin widens the detector box before cropping so the embedder sees
// some context around the face.
const faceMargin = 0.12

// cropRegion cuts the padded box out of the image, clamped to its bounds.
// Degenerate boxes return nil.
func cropRegion(img image.Image, bbox [4]float32) image.Image {
	bounds := img.Bounds()

	w := bbox[2] - bbox[0]
	h := bbox[3] - bbox[1]
	if w <= 0 || h <= 0 {
		return nil
	}

	x1 := int(bbox[0] - w*faceMargin)
	y1 := int(bbox[1] - h*faceMargin)
	x2 := int(bbox[2] + w*faceMargin)
	y2 := int(bbox[3] + h*faceMargin)

	if x1 < bounds.Min.X {
		x1 = bounds.Min.X
	}
	if y1 < bounds.Min.Y {
		y1 = bounds.Min.Y
	}
	if x2 > bounds.Max.X {
		x2 = bounds.Max.X
	}
	if y2 > bounds.Max.Y {
		y2 = bounds.Max.Y
	}
	if x2-x1 <= 0 || y2-y1 <= 0 {
		return nil
	}

	crop := image.NewRGBA(image.Rect(0, 0, x2-x1, y2-y1))
	for cy := y1; cy < y2; cy++ {
		for cx := x1; cx < x2; cx++ {
			crop.Set(cx-x1, cy-y1, img.At(cx, cy))
		}
	}
	return crop
}
