package archive

import "fmt"

// MaxPaletteColors bounds the number of distinct colors an archive can
// carry. Index 0xFF is reserved for sentinel padding records so it can never
// be handed out as a palette index.
const MaxPaletteColors = 255

// Color is one RGBA tuple as it appears in the palette.
type Color [4]byte

// Palette is the bijection between tile colors and the single byte indices
// used by the stored record format. Indices are assigned in first-seen
// order, so a palette built from the same placement sequence is always
// identical.
type Palette struct {
	indexByColor map[Color]uint8
	colors       []Color
}

func NewPalette() *Palette {
	return &Palette{
		indexByColor: map[Color]uint8{},
	}
}

// PaletteFromColors reconstructs a palette from an index-ordered color list,
// as decoded from a meta entry.
func PaletteFromColors(colors []Color) *Palette {
	p := NewPalette()
	for _, c := range colors {
		p.colors = append(p.colors, c)
		p.indexByColor[c] = uint8(len(p.colors) - 1)
	}
	return p
}

// Intern returns the index for color, allocating the next free index if the
// color has not been seen before. Once MaxPaletteColors distinct colors have
// been allocated, interning a further new color fails with ErrPaletteFull;
// the index is never wrapped or reused.
func (p *Palette) Intern(color Color) (uint8, error) {
	if index, ok := p.indexByColor[color]; ok {
		return index, nil
	}
	if len(p.colors) >= MaxPaletteColors {
		return 0, ErrPaletteFull
	}
	index := uint8(len(p.colors))
	p.colors = append(p.colors, color)
	p.indexByColor[color] = index
	return index, nil
}

// Color resolves a stored color index. A missing index means the record or
// the palette is corrupt and is always surfaced as ErrUnknownColorIndex,
// never silently substituted.
func (p *Palette) Color(index uint8) (Color, error) {
	if int(index) >= len(p.colors) {
		return Color{}, fmt.Errorf("%w: index %d, palette has %d colors", ErrUnknownColorIndex, index, len(p.colors))
	}
	return p.colors[index], nil
}

// Colors returns the palette in index order. The returned slice is the
// palette's backing store and must not be mutated.
func (p *Palette) Colors() []Color {
	return p.colors
}

func (p *Palette) Len() int {
	return len(p.colors)
}
