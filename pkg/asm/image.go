package asm

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"strings"

	"tlog.app/go/errors"

	"mipsim/pkg/cpu"
)

// imageMagic opens every binary image: "MIPS" in little-endian.
const imageMagic uint32 = 0x5350494D

// maxImageWords bounds ReadImage so a corrupt header cannot force a huge allocation.
const maxImageWords = 1 << 26

// WriteImage stores im as a little-endian header (magic, origin, entry,
// count) followed by count words.
func WriteImage(w io.Writer, im cpu.Image) error {
	hdr := []uint32{imageMagic, uint32(im.Origin), uint32(im.Entry), uint32(len(im.Words))}

	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return errors.Wrap(err, "write header")
	}

	if err := binary.Write(w, binary.LittleEndian, im.Words); err != nil {
		return errors.Wrap(err, "write words")
	}

	return nil
}

func ReadImage(r io.Reader) (cpu.Image, error) {
	var hdr [4]uint32

	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return cpu.Image{}, errors.Wrap(err, "read header")
	}

	if hdr[0] != imageMagic {
		return cpu.Image{}, errors.Wrap(cpu.ErrBadImage, "bad magic %#08x", hdr[0])
	}

	if hdr[3] > maxImageWords {
		return cpu.Image{}, errors.Wrap(cpu.ErrBadImage, "image claims %d words", hdr[3])
	}

	im := cpu.Image{
		Origin: int(hdr[1]),
		Entry:  int(hdr[2]),
		Words:  make([]uint32, hdr[3]),
	}

	if err := binary.Read(r, binary.LittleEndian, im.Words); err != nil {
		return cpu.Image{}, errors.Wrap(err, "read words")
	}

	return im, nil
}

// Listing renders the program one word per line with its address, the
// labels that point at it and its disassembly.
func (p *Program) Listing(set *cpu.InstructionSet) string {
	if set == nil {
		set = cpu.NewInstructionSet()
	}

	byAddr := make(map[int][]string)
	for name, addr := range p.Labels {
		if name == mainLabel {
			continue
		}
		byAddr[addr] = append(byAddr[addr], name)
	}

	var b strings.Builder

	for i, w := range p.Image.Words {
		addr := p.Image.Origin + i

		names := byAddr[addr]
		sort.Strings(names)
		for _, n := range names {
			fmt.Fprintf(&b, "%s:\n", n)
		}

		fmt.Fprintf(&b, "%6d  %08x  %-28s ; line %d\n", addr, w, set.Disassemble(w), p.SourceMap[addr])
	}

	return b.String()
}
