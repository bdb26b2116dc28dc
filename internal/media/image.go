package media

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"net/http"

	"github.com/chai2010/webp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register WebP decoder
)

const webpContentType = "image/webp"

// DefaultMaxPixels bounds the decoded size of an upload.
const DefaultMaxPixels = 40_000_000

var allowedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// Normalized is an image ready to be stored.
type Normalized struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

// errNotImage is returned for payloads that are not a supported image.
type errNotImage struct{ contentType string }

func (e errNotImage) Error() string { return "unsupported media type " + e.contentType }

type errTooManyPixels struct {
	width, height int
	max           int64
}

func (e errTooManyPixels) Error() string {
	return fmt.Sprintf("image is %dx%d, over the %d pixel limit", e.width, e.height, e.max)
}

type NormalizeOptions struct {
	MaxDimension int
	MaxPixels    int64
	Quality      int
}

// Normalize sniffs data and, when either side exceeds MaxDimension, scales
// the image down to fit and re-encodes it as WebP. Smaller images are kept
// byte for byte. Images over MaxPixels are refused before any pixel data is
// decoded.
func Normalize(data []byte, opts NormalizeOptions) (*Normalized, error) {
	maxDim := opts.MaxDimension
	maxPixels := opts.MaxPixels
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	contentType := http.DetectContentType(data)
	if !allowedTypes[contentType] {
		return nil, errNotImage{contentType}
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, errNotImage{contentType}
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, errTooManyPixels{width: cfg.Width, height: cfg.Height, max: maxPixels}
	}
	if maxDim <= 0 || (cfg.Width <= maxDim && cfg.Height <= maxDim) {
		return &Normalized{Data: data, ContentType: contentType, Width: cfg.Width, Height: cfg.Height}, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errNotImage{contentType}
	}
	dst := resizeToFit(src, maxDim)

	buf := bytes.NewBuffer(nil)
	if err := webp.Encode(buf, dst, &webp.Options{Quality: float32(opts.Quality)}); err != nil {
		return nil, err
	}
	b := dst.Bounds()
	return &Normalized{Data: buf.Bytes(), ContentType: webpContentType, Width: b.Dx(), Height: b.Dy()}, nil
}

func resizeToFit(src image.Image, maxDim int) image.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	scale := float64(maxDim) / float64(w)
	if s := float64(maxDim) / float64(h); s < scale {
		scale = s
	}
	newW, newH := int(float64(w)*scale), int(float64(h)*scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)
	return dst
}
