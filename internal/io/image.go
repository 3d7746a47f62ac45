package ioutils

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	_ "image/png" // PNG decoder registration

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // WebP decoder registration, common for video thumbnails
)

// CoverArtOptions selects how ImageService.Prepare transforms a thumbnail.
type CoverArtOptions struct {
	// MaxSize bounds width and height when Resize is set.
	Resize  bool
	MaxSize int

	// ToJPEG re-encodes the image as JPEG.
	ToJPEG bool
}

// ImageService prepares thumbnails for embedding as cover art.
//
// Example usage:
//
//	svc := NewImageService()
//	art, err := svc.Prepare(ctx, thumbnail, CoverArtOptions{Resize: true, MaxSize: 1000, ToJPEG: true})
type ImageService struct {
	quality int
}

// NewImageService creates a new ImageService.
func NewImageService() *ImageService {
	return &ImageService{quality: 90}
}

// Prepare applies opts to data. With neither option set data is returned
// unchanged; otherwise the result is JPEG.
func (s *ImageService) Prepare(ctx context.Context, data []byte, opts CoverArtOptions) ([]byte, error) {
	if opts.Resize && opts.MaxSize > 0 {
		return s.ResizeImage(ctx, data, opts.MaxSize, opts.MaxSize)
	}
	if opts.ToJPEG {
		return s.ConvertToJPEG(ctx, data)
	}
	return data, nil
}

// ResizeImage scales an image down to fit within maxWidth x maxHeight,
// keeping the aspect ratio, and returns it JPEG-encoded. Smaller images
// keep their size but are still re-encoded.
//
// Example:
//
//	// A 1280x720 thumbnail becomes 1000x562
//	resized, err := svc.ResizeImage(ctx, thumbnail, 1000, 1000)
func (s *ImageService) ResizeImage(ctx context.Context, data []byte, maxWidth, maxHeight int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	width, height := fitWithin(bounds.Dx(), bounds.Dy(), maxWidth, maxHeight)

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return s.encode(dst)
}

// ConvertToJPEG re-encodes an image (JPEG, PNG or WebP) as JPEG.
func (s *ImageService) ConvertToJPEG(ctx context.Context, data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.encode(img)
}

func (s *ImageService) encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// fitWithin returns width and height scaled down to fit the bounds.
func fitWithin(width, height, maxWidth, maxHeight int) (int, int) {
	if width <= maxWidth && height <= maxHeight || width == 0 || height == 0 {
		return width, height
	}
	ratio := float64(width) / float64(height)
	if float64(maxWidth)/float64(maxHeight) > ratio {
		return max(1, int(float64(maxHeight)*ratio)), maxHeight
	}
	return maxWidth, max(1, int(float64(maxWidth)/ratio))
}
