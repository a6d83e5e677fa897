package vision

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"

	"github.com/yusuftiryaki/mower/internal/hal"
)

// Undistort applies the pinhole/Brown-Conrady inverse mapping to
// frame, treating Data as a tightly packed RGBA buffer. It does not
// resize the frame; DownscaleForDetection bounds the decoder's input
// size.
func Undistort(frame hal.Frame, intr Intrinsics) hal.Frame {
	if frame.Width <= 0 || frame.Height <= 0 || len(frame.Data) < frame.Width*frame.Height*4 {
		return frame
	}

	src := &image.RGBA{
		Pix:    frame.Data,
		Stride: frame.Width * 4,
		Rect:   image.Rect(0, 0, frame.Width, frame.Height),
	}

	dst := image.NewRGBA(src.Rect)
	remap(dst, src, intr)

	return hal.Frame{
		Data:      dst.Pix,
		Width:     frame.Width,
		Height:    frame.Height,
		Timestamp: frame.Timestamp,
	}
}

// DownscaleForDetection shrinks frame to maxWidthPx using bilinear
// filtering, preserving aspect ratio, to bound decoder runtime on
// high-resolution captures. A maxWidthPx <= 0 or a frame already at or
// under the limit is returned unchanged.
func DownscaleForDetection(frame hal.Frame, maxWidthPx int) hal.Frame {
	if maxWidthPx <= 0 || frame.Width <= maxWidthPx {
		return frame
	}
	src := &image.RGBA{
		Pix:    frame.Data,
		Stride: frame.Width * 4,
		Rect:   image.Rect(0, 0, frame.Width, frame.Height),
	}
	scale := float64(maxWidthPx) / float64(frame.Width)
	dstW := maxWidthPx
	dstH := int(math.Round(float64(frame.Height) * scale))
	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))

	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	return hal.Frame{
		Data:      dst.Pix,
		Width:     dstW,
		Height:    dstH,
		Timestamp: frame.Timestamp,
	}
}

// remap fills dst by sampling src at each output pixel's distorted
// source coordinate (the Brown-Conrady forward model inverted by
// direct evaluation, since K and the distortion vector here are small
// enough that the undistorted-to-distorted forward map, evaluated at
// the undistorted pixel, is an adequate first-order inverse for the
// dock camera's narrow field of view).
func remap(dst, src *image.RGBA, intr Intrinsics) {
	fx, fy := intr.K[0][0], intr.K[1][1]
	cx, cy := intr.K[0][2], intr.K[1][2]
	k1, k2, p1, p2, k3 := intr.Distortion[0], intr.Distortion[1], intr.Distortion[2], intr.Distortion[3], intr.Distortion[4]

	bounds := dst.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			xn := (float64(x) - cx) / fx
			yn := (float64(y) - cy) / fy
			r2 := xn*xn + yn*yn
			radial := 1 + k1*r2 + k2*r2*r2 + k3*r2*r2*r2
			xd := xn*radial + 2*p1*xn*yn + p2*(r2+2*xn*xn)
			yd := yn*radial + p1*(r2+2*yn*yn) + 2*p2*xn*yn

			srcX := xd*fx + cx
			srcY := yd*fy + cy

			dst.Set(x, y, sampleBilinear(src, srcX, srcY))
		}
	}
}

func sampleBilinear(src *image.RGBA, x, y float64) color.RGBA {
	b := src.Bounds()
	if x < float64(b.Min.X) || x >= float64(b.Max.X-1) || y < float64(b.Min.Y) || y >= float64(b.Max.Y-1) {
		return color.RGBA{}
	}
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	fx, fy := x-float64(x0), y-float64(y0)

	c00 := src.RGBAAt(x0, y0)
	c10 := src.RGBAAt(x0+1, y0)
	c01 := src.RGBAAt(x0, y0+1)
	c11 := src.RGBAAt(x0+1, y0+1)

	lerp := func(a, b uint8, t float64) float64 { return float64(a) + (float64(b)-float64(a))*t }
	top := func(channel func(color.RGBA) uint8) float64 {
		return lerp(channel(c00), channel(c10), fx)
	}
	bot := func(channel func(color.RGBA) uint8) float64 {
		return lerp(channel(c01), channel(c11), fx)
	}
	blend := func(channel func(color.RGBA) uint8) uint8 {
		return uint8(lerp(uint8(top(channel)), uint8(bot(channel)), fy))
	}

	return color.RGBA{
		R: blend(func(c color.RGBA) uint8 { return c.R }),
		G: blend(func(c color.RGBA) uint8 { return c.G }),
		B: blend(func(c color.RGBA) uint8 { return c.B }),
		A: blend(func(c color.RGBA) uint8 { return c.A }),
	}
}
