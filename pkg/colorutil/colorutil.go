// Package colorutil provides the overlay colors shared by previews and reports.
package colorutil

import (
	"image/color"
)

// Common overlay colors.
var (
	Black   = color.RGBA{R: 0, G: 0, B: 0, A: 255}
	White   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	Cyan    = color.RGBA{R: 0, G: 255, B: 255, A: 255}
	Magenta = color.RGBA{R: 255, G: 0, B: 255, A: 255}
	Green   = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	Yellow  = color.RGBA{R: 255, G: 255, B: 0, A: 255}
)

// Cameras holds one color per camera, left first.
var Cameras = []color.RGBA{Cyan, Magenta}

// ForIndex returns a camera color, cycling past the end of the palette.
func ForIndex(i int) color.RGBA {
	if i < 0 {
		i = -i
	}
	return Cameras[i%len(Cameras)]
}

// WithAlpha returns c with alpha a, premultiplied.
func WithAlpha(c color.RGBA, a uint8) color.RGBA {
	scale := func(v uint8) uint8 { return uint8(uint16(v) * uint16(a) / 255) }
	return color.RGBA{R: scale(c.R), G: scale(c.G), B: scale(c.B), A: a}
}
