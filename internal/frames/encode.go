package frames

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"

	"golang.org/x/image/draw"
)

const (
	analysisMaxLongSide = 1280
	analysisJPEGQuality = 85
	thumbMaxWidth       = 320
	thumbJPEGQuality    = 70
	compareSize         = 256 // SSIM and optical flow run at 256x256
)

// ToGray converts any image to 8-bit grayscale.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g.Set(x, y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return g
}

// ResizeGrayForCompare scales a frame to the fixed comparison size.
func ResizeGrayForCompare(img image.Image) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, compareSize, compareSize))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// EncodeAnalysisJPEG encodes a frame for AI upload: longer side capped at
// 1280px, aspect preserved, quality 85.
func EncodeAnalysisJPEG(img image.Image) ([]byte, error) {
	return encodeScaled(img, analysisMaxLongSide, false, analysisJPEGQuality)
}

// EncodeThumbnailJPEG encodes the persisted thumbnail: width capped at 320px,
// quality 70.
func EncodeThumbnailJPEG(img image.Image) ([]byte, error) {
	return encodeScaled(img, thumbMaxWidth, true, thumbJPEGQuality)
}

func encodeScaled(img image.Image, limit int, widthOnly bool, quality int) ([]byte, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	ref := w
	if !widthOnly && h > w {
		ref = h
	}

	out := img
	if ref > limit && ref > 0 {
		scale := float64(limit) / float64(ref)
		nw := int(float64(w) * scale)
		nh := int(float64(h) * scale)
		if nw < 1 {
			nw = 1
		}
		if nh < 1 {
			nh = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		out = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
