// Package player replays a tile archive onto a persistent canvas,
// advancing incrementally to any requested point in the history.
package player

import (
	"image"
	"image/color"

	"github.com/codetheweb/placed/archive"
)

// Canvas is the persistent resolved-color grid owned by the engine. Every
// coordinate starts as the transparent zero value and is only ever
// overwritten by qualifying placements; the canvas is never reset, so
// moving backwards in time means replaying from zero on a fresh engine.
type Canvas struct {
	img *image.RGBA
}

func NewCanvas(width, height int) *Canvas {
	return &Canvas{img: image.NewRGBA(image.Rect(0, 0, width, height))}
}

func (c *Canvas) Width() int {
	return c.img.Rect.Dx()
}

func (c *Canvas) Height() int {
	return c.img.Rect.Dy()
}

// Set writes the resolved color for one coordinate. Coordinates outside
// the canvas are ignored, matching the behavior of the underlying image.
func (c *Canvas) Set(x, y uint16, col archive.Color) {
	c.img.SetRGBA(int(x), int(y), color.RGBA{R: col[0], G: col[1], B: col[2], A: col[3]})
}

// At returns the resolved color at one coordinate. Unset coordinates
// report the transparent zero color.
func (c *Canvas) At(x, y uint16) archive.Color {
	col := c.img.RGBAAt(int(x), int(y))
	return archive.Color{col.R, col.G, col.B, col.A}
}

// Image exposes the canvas as a standard image. The returned image shares
// the canvas storage: it is a snapshot only between engine calls, and
// callers wanting to keep it across further playback must copy it.
func (c *Canvas) Image() *image.RGBA {
	return c.img
}
