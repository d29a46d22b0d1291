package cpu

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode"
)

// ReadString reads a NUL-terminated run of cells starting at addr.
func (c *CPU) ReadString(addr int) string {
	var b strings.Builder
	for i := addr; i < len(c.Memory) && c.Memory[i] != 0; i++ {
		b.WriteRune(rune(c.Memory[i]))
	}
	return b.String()
}

// WriteString stores s one character per cell followed by a NUL and
// returns the number of characters stored.
func (c *CPU) WriteString(addr int, s string) int {
	n := 0
	for _, r := range s {
		c.Memory[addr+n] = r
		n++
	}
	c.Memory[addr+n] = 0
	return n
}

// Dump lists every cell as its number and character, followed by the
// program counter.
func (c *CPU) Dump(w io.Writer) error {
	bw := bufio.NewWriter(w)

	for i, v := range c.Memory {
		label := ""
		if i < NumRegisters {
			label = "$" + RegisterName(i)
		} else if i == RegPC {
			label = "pc"
		}

		fmt.Fprintf(bw, "%6d %-5s %11d %#08x %s\n", i, label, v, uint32(v), printable(v))
	}

	fmt.Fprintf(bw, "pc %d\n", c.PC())

	return bw.Flush()
}

func printable(v int32) string {
	if v < 0 || v > unicode.MaxRune || !unicode.IsPrint(rune(v)) {
		return "."
	}
	return string(rune(v))
}
