package peripherals

import (
	"encoding/binary"
	"sync"

	"tlog.app/go/errors"

	"mipsim/pkg/cpu"
	"mipsim/pkg/grid"
)

const DisplayType = "display"

const (
	DefaultDisplayCols = 40
	DefaultDisplayRows = 12
)

// Display is a text grid. The program writes characters into the back
// buffer cells and raises the refresh flag (the cell after the grid);
// the next poll copies the grid into the front buffer read by renderers.
type Display struct {
	base int
	cols int
	rows int

	mu    sync.Mutex
	front []int32
}

func NewDisplay(cols, rows int) *Display {
	if cols <= 0 {
		cols = DefaultDisplayCols
	}
	if rows <= 0 {
		rows = DefaultDisplayRows
	}

	return &Display{
		cols:  cols,
		rows:  rows,
		front: make([]int32, cols*rows),
	}
}

func (p *Display) Name() string    { return DisplayType }
func (p *Display) Size() int       { return p.cols*p.rows + 1 }
func (p *Display) Attach(base int) { p.base = base }
func (p *Display) Base() int       { return p.base }
func (p *Display) Cols() int       { return p.cols }
func (p *Display) Rows() int       { return p.rows }

// FlagOffset is the refresh flag's offset inside the block.
func (p *Display) FlagOffset() int { return p.cols * p.rows }

// CellAddr returns the memory cell backing column x of row y.
func (p *Display) CellAddr(x, y int) int {
	return p.base + grid.GetIndex(x, y, p.cols)
}

func (p *Display) Options() map[string]int {
	return map[string]int{"cols": p.cols, "rows": p.rows}
}

func (p *Display) Poll(c *cpu.CPU) error {
	flag := p.base + p.FlagOffset()
	if c.Memory[flag] == 0 {
		return nil
	}

	p.mu.Lock()
	copy(p.front, c.Memory[p.base:flag])
	p.mu.Unlock()

	c.Memory[flag] = 0

	return nil
}

// Front returns a copy of the last refreshed frame.
func (p *Display) Front() []int32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]int32, len(p.front))
	copy(out, p.front)
	return out
}

// Lines renders the front buffer as text, one string per row.
func (p *Display) Lines() []string {
	front := p.Front()
	lines := make([]string, p.rows)

	row := make([]rune, p.cols)
	for y := range lines {
		for x := range row {
			ch := front[grid.GetIndex(x, y, p.cols)]
			if ch <= 0 {
				ch = ' '
			}
			row[x] = rune(ch)
		}
		lines[y] = string(row)
	}

	return lines
}

func (p *Display) SaveState() []byte {
	front := p.Front()

	buf := make([]byte, 4*len(front))
	for i, v := range front {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(v))
	}
	return buf
}

func (p *Display) LoadState(data []byte) error {
	if len(data) != 4*p.cols*p.rows {
		return errors.New("display state: need %d bytes, got %d", 4*p.cols*p.rows, len(data))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.front {
		p.front[i] = int32(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return nil
}
