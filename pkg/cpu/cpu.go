package cpu

import (
	"bufio"
	"io"
	"os"
	"runtime"
	"time"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"
)

const DefaultMemorySize = 1 << 16

type Config struct {
	// MemorySize is the number of cells, registers included.
	MemorySize int
	// StackTop is the initial stack pointer. Zero places the stack right
	// below the lowest peripheral block.
	StackTop int
	// MaxSteps stops Run with ErrStepLimit. Zero means unlimited.
	MaxSteps uint64

	Stdin  io.Reader
	Stdout io.Writer
}

func DefaultConfig() Config {
	return Config{MemorySize: DefaultMemorySize}
}

// Image is an assembled program ready to be loaded.
type Image struct {
	Origin int
	Words  []uint32
	Entry  int
}

// End returns the first cell after the image.
func (im Image) End() int {
	return im.Origin + len(im.Words)
}

type mount struct {
	p    Peripheral
	base int
}

type CPU struct {
	Memory []int32

	HI int32
	LO int32

	Halted   bool
	ExitCode int32
	Steps    uint64

	// Heap is the next free cell handed out by the allocate syscall.
	Heap int

	Set *InstructionSet

	// Output is where console syscalls write. If nil, os.Stdout is used.
	Output io.Writer
	Input  *bufio.Reader

	cfg Config

	mounts         []mount
	peripheralBase int
	loaded         bool

	syscalls [SyscallSlots]syscallFunc
	started  time.Time
}

func New(cfg Config, set *InstructionSet) *CPU {
	if cfg.MemorySize <= 0 {
		cfg.MemorySize = DefaultMemorySize
	}
	if set == nil {
		set = NewInstructionSet()
	}

	c := &CPU{
		Memory:         make([]int32, cfg.MemorySize),
		Set:            set,
		Output:         cfg.Stdout,
		cfg:            cfg,
		peripheralBase: cfg.MemorySize,
		syscalls:       defaultSyscalls(),
		started:        time.Now(),
	}

	if cfg.Stdin != nil {
		c.Input = bufio.NewReader(cfg.Stdin)
	}

	return c
}

func (c *CPU) Config() Config { return c.cfg }

func (c *CPU) PC() int { return int(c.Memory[RegPC]) }

func (c *CPU) SetPC(pc int) { c.Memory[RegPC] = int32(pc) }

func (c *CPU) Reg(i int) int32 { return c.Memory[i] }

// SetReg writes a register. Writes to $zero are discarded.
func (c *CPU) SetReg(i int, v int32) {
	if i == RegZero {
		return
	}
	c.Memory[i] = v
}

// StackTop returns the initial stack pointer for the current layout.
func (c *CPU) StackTop() int {
	if c.cfg.StackTop > 0 {
		return c.cfg.StackTop
	}
	return c.peripheralBase
}

// PeripheralBase returns the lowest cell reserved by a peripheral.
func (c *CPU) PeripheralBase() int { return c.peripheralBase }

// Mount reserves a block at the top of memory for p and returns its base.
// Peripherals are polled in mount order.
func (c *CPU) Mount(p Peripheral) (int, error) {
	if c.loaded {
		return 0, errors.Wrap(ErrLayout, "mount %v after load", p.Name())
	}

	base := c.peripheralBase - p.Size()
	if base < ProgramBase {
		return 0, errors.Wrap(ErrLayout, "no room for %v (%d cells)", p.Name(), p.Size())
	}

	c.peripheralBase = base
	c.mounts = append(c.mounts, mount{p: p, base: base})
	p.Attach(base)

	return base, nil
}

// Peripherals returns mounted peripherals in poll order.
func (c *CPU) Peripherals() []Peripheral {
	out := make([]Peripheral, len(c.mounts))
	for i, m := range c.mounts {
		out[i] = m.p
	}
	return out
}

// Load resets the machine state and copies the image into memory.
func (c *CPU) Load(im Image) error {
	top := c.StackTop()

	switch {
	case im.Origin < ProgramBase:
		return errors.Wrap(ErrBadImage, "origin %d below program base %d", im.Origin, ProgramBase)
	case im.End() > top:
		return errors.Wrap(ErrBadImage, "image ends at %d, stack top is %d", im.End(), top)
	case top > c.peripheralBase:
		return errors.Wrap(ErrLayout, "stack top %d overlaps peripherals at %d", top, c.peripheralBase)
	case im.Entry < im.Origin || im.Entry > im.End():
		return errors.Wrap(ErrBadImage, "entry %d outside image", im.Entry)
	}

	for i := range c.Memory[:c.peripheralBase] {
		c.Memory[i] = 0
	}

	for i, w := range im.Words {
		c.Memory[im.Origin+i] = int32(w)
	}

	c.SetPC(im.Entry)
	c.Memory[RegSP] = int32(top)
	c.Memory[RegFP] = int32(top)
	c.Memory[RegGP] = int32(im.Origin)

	c.HI, c.LO = 0, 0
	c.Halted = false
	c.ExitCode = 0
	c.Steps = 0
	c.Heap = im.End()
	c.loaded = true
	c.started = time.Now()

	return nil
}

func (c *CPU) outputSink() io.Writer {
	if c.Output != nil {
		return c.Output
	}
	return os.Stdout
}

// Stdout returns the console writer used by syscalls and peripherals.
func (c *CPU) Stdout() io.Writer {
	return c.outputSink()
}

func (c *CPU) inputSource() *bufio.Reader {
	if c.Input == nil {
		c.Input = bufio.NewReader(os.Stdin)
	}
	return c.Input
}

// Step executes one instruction and polls every peripheral once.
// A zero word halts the machine after a final poll.
func (c *CPU) Step() (err error) {
	if c.Halted {
		return nil
	}

	defer func() {
		p := recover()
		if p == nil {
			return
		}
		if re, ok := p.(runtime.Error); ok {
			c.Halted = true
			err = errors.Wrap(ErrMemoryAccess, "pc %d: %v", c.PC()-1, re)
			return
		}
		panic(p)
	}()

	pc := c.PC()
	word := uint32(c.Memory[pc])
	c.SetPC(pc + 1)
	c.Steps++

	if word == 0 {
		c.Halted = true
		return c.poll()
	}

	d, ok := c.Set.Decode(word)
	if !ok {
		c.Halted = true
		return errors.Wrap(ErrUnknownInstruction, "pc %d: word %#08x", pc, word)
	}

	in := d.Decode(word)

	if tlog.If("cpu_trace") {
		tlog.V("cpu_trace").Printw("step", "pc", pc, "word", tlog.FormatNext("%#08x"), word, "ins", c.Set.Disassemble(word))
	}

	if err := d.Handler(c, in); err != nil {
		c.Halted = true
		return errors.Wrap(err, "pc %d: %v", pc, d.Mnemonic)
	}

	c.Memory[RegZero] = 0

	return c.poll()
}

func (c *CPU) poll() error {
	for _, m := range c.mounts {
		if err := m.p.Poll(c); err != nil {
			c.Halted = true
			return errors.Wrap(err, "peripheral %v", m.p.Name())
		}
	}
	return nil
}

// Run steps until the machine halts, fails or reaches the configured step limit.
func (c *CPU) Run() error {
	for !c.Halted {
		if c.cfg.MaxSteps != 0 && c.Steps >= c.cfg.MaxSteps {
			return errors.Wrap(ErrStepLimit, "after %d steps", c.Steps)
		}
		if err := c.Step(); err != nil {
			return err
		}
	}
	return nil
}

// RunSteps executes at most n instructions.
func (c *CPU) RunSteps(n int) error {
	for i := 0; i < n && !c.Halted; i++ {
		if err := c.Step(); err != nil {
			return err
		}
	}
	return nil
}
