// Package preprocess binarises photographed documents ahead of OCR.
package preprocess

import (
	"bytes"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// Params control the transform. The zero value is not useful; use Defaults.
type Params struct {
	// BlurKernel is the side of the square Gaussian kernel used for denoising.
	BlurKernel int
	// BlockSize is the side of the neighbourhood used for the adaptive threshold.
	BlockSize int
	// C is subtracted from the weighted neighbourhood mean.
	C float64
}

// Defaults is a 5x5 blur followed by an 11x11 Gaussian adaptive threshold with C=2.
var Defaults = Params{BlurKernel: 5, BlockSize: 11, C: 2}

// Filter converts any decodable image into a black and white PNG.
type Filter struct {
	p Params
}

func New(p Params) *Filter {
	if p.BlurKernel <= 0 {
		p.BlurKernel = Defaults.BlurKernel
	}
	if p.BlockSize <= 1 {
		p.BlockSize = Defaults.BlockSize
	}
	return &Filter{p: p}
}

// Apply decodes src, converts it to grayscale, blurs it and binarises it with
// an adaptive Gaussian threshold. The result is always PNG encoded.
func (f *Filter) Apply(src []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("could not decode image bytes: %w", err)
	}
	gray := imaging.Grayscale(img)
	blurred := imaging.Blur(gray, kernelSigma(f.p.BlurKernel))
	local := imaging.Blur(blurred, kernelSigma(f.p.BlockSize))
	out := threshold(blurred, local, f.p.C)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// kernelSigma derives the Gaussian sigma for a square kernel of side n using
// the usual 0.3*((n-1)*0.5-1)+0.8 rule.
func kernelSigma(n int) float64 {
	return 0.3*(float64(n-1)*0.5-1) + 0.8
}

// threshold sets a pixel white when it is brighter than its neighbourhood
// mean minus c. Both inputs are grayscale so only the red channel is read.
func threshold(src, mean *image.NRGBA, c float64) *image.Gray {
	b := src.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		srow := src.Pix[y*src.Stride:]
		mrow := mean.Pix[y*mean.Stride:]
		orow := out.Pix[y*out.Stride:]
		for x := 0; x < b.Dx(); x++ {
			v := float64(srow[x*4])
			t := math.Round(float64(mrow[x*4])) - c
			if v > t {
				orow[x] = 255
			}
		}
	}
	return out
}
