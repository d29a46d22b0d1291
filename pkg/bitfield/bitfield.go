// Package bitfield packs ordered lists of fixed-width fields into 32-bit words.
//
// Fields are listed lowest-order first: the first field occupies the least
// significant bits of the word.
package bitfield

import (
	"tlog.app/go/errors"
)

const WordBits = 32

type Field struct {
	Name  string
	Width uint
}

type Layout []Field

func Mask(width uint) uint32 {
	if width >= WordBits {
		return 0xFFFFFFFF
	}
	return 1<<width - 1
}

// Width returns the total number of bits the layout covers.
func (l Layout) Width() uint {
	var w uint
	for _, f := range l {
		w += f.Width
	}
	return w
}

// Validate reports an error unless the layout covers exactly one word.
func (l Layout) Validate() error {
	if w := l.Width(); w != WordBits {
		return errors.New("layout covers %d bits, want %d", w, WordBits)
	}
	for _, f := range l {
		if f.Width == 0 {
			return errors.New("field %q has zero width", f.Name)
		}
	}
	return nil
}

// Pack walks the fields lowest-order first, masking each value to its width.
func (l Layout) Pack(values []uint32) (uint32, error) {
	if len(values) != len(l) {
		return 0, errors.New("got %d values for %d fields", len(values), len(l))
	}

	var word uint32
	var shift uint

	for i, f := range l {
		word |= (values[i] & Mask(f.Width)) << shift
		shift += f.Width
	}

	return word, nil
}

// Unpack is the inverse of Pack.
func (l Layout) Unpack(word uint32) []uint32 {
	values := make([]uint32, len(l))
	var shift uint

	for i, f := range l {
		values[i] = (word >> shift) & Mask(f.Width)
		shift += f.Width
	}

	return values
}

// Offset returns the bit offset of the named field, or -1.
func (l Layout) Offset(name string) int {
	var shift uint
	for _, f := range l {
		if f.Name == name {
			return int(shift)
		}
		shift += f.Width
	}
	return -1
}

// Fits reports whether v can be stored in width bits without truncation.
func Fits(v uint32, width uint) bool {
	return v&^Mask(width) == 0
}

// SignExtend interprets the low width bits of v as a two's-complement number.
func SignExtend(v uint32, width uint) int32 {
	shift := WordBits - width
	return int32(v<<shift) >> shift
}
