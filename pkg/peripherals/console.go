package peripherals

import (
	"fmt"
	"math"
	"strconv"

	"mipsim/pkg/cpu"
)

const ConsoleType = "console"

// Console cell offsets.
const (
	ConsoleFlag  = 0
	ConsoleValue = 1
	ConsoleMode  = 2

	consoleSize = 3
)

// Console output modes.
const (
	ConsoleChar  = 0
	ConsoleInt   = 1
	ConsoleFloat = 2
)

// Console prints the value cell whenever a program raises the flag cell.
type Console struct {
	base int
}

func NewConsole() *Console { return &Console{} }

func (p *Console) Name() string    { return ConsoleType }
func (p *Console) Size() int       { return consoleSize }
func (p *Console) Attach(base int) { p.base = base }
func (p *Console) Base() int       { return p.base }

func (p *Console) Poll(c *cpu.CPU) error {
	if c.Memory[p.base+ConsoleFlag] == 0 {
		return nil
	}

	v := c.Memory[p.base+ConsoleValue]
	out := c.Stdout()

	var err error
	switch c.Memory[p.base+ConsoleMode] {
	case ConsoleInt:
		_, err = fmt.Fprint(out, v)
	case ConsoleFloat:
		_, err = fmt.Fprint(out, strconv.FormatFloat(float64(math.Float32frombits(uint32(v))), 'g', -1, 32))
	default:
		_, err = fmt.Fprintf(out, "%c", rune(v))
	}

	c.Memory[p.base+ConsoleFlag] = 0

	return err
}
