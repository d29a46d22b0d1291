package cpu

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"
)

// Syscall selectors, passed in $v0.
const (
	SysPrintInt    = 1
	SysPrintFloat  = 2
	SysPrintDouble = 3
	SysPrintString = 4
	SysReadInt     = 5
	SysReadFloat   = 6
	SysReadDouble  = 7
	SysReadString  = 8
	SysAlloc       = 9
	SysExit        = 10
	SysPrintChar   = 11
	SysReadChar    = 12
	SysExitCode    = 17
	SysTime        = 18
	SysDebugBreak  = 19

	SyscallSlots = 20
)

type syscallFunc func(c *CPU) error

// Slots 0 and 13-16 are unused and trap.
func defaultSyscalls() (t [SyscallSlots]syscallFunc) {
	t[SysPrintInt] = sysPrintInt
	t[SysPrintFloat] = sysPrintFloat
	t[SysPrintDouble] = sysPrintDouble
	t[SysPrintString] = sysPrintString
	t[SysReadInt] = sysReadInt
	t[SysReadFloat] = sysReadFloat
	t[SysReadDouble] = sysReadDouble
	t[SysReadString] = sysReadString
	t[SysAlloc] = sysAlloc
	t[SysExit] = sysExit
	t[SysPrintChar] = sysPrintChar
	t[SysReadChar] = sysReadChar
	t[SysExitCode] = sysExitCode
	t[SysTime] = sysTime
	t[SysDebugBreak] = (*CPU).debugBreak

	return t
}

func opSyscall(c *CPU, in Instruction) error {
	sel := c.Reg(RegV0)
	if sel < 0 || int(sel) >= len(c.syscalls) || c.syscalls[sel] == nil {
		return errors.Wrap(ErrUnmappedSyscall, "selector %d", sel)
	}

	return c.syscalls[sel](c)
}

func sysPrintInt(c *CPU) error {
	_, err := fmt.Fprint(c.outputSink(), c.Reg(RegA0))
	return err
}

func sysPrintFloat(c *CPU) error {
	_, err := io.WriteString(c.outputSink(), strconv.FormatFloat(float64(c.Float(RegA0)), 'g', -1, 32))
	return err
}

// Doubles span two cells: low word in the first register, high word in the next.

func (c *CPU) double(lo int) float64 {
	bits := uint64(uint32(c.Reg(lo))) | uint64(uint32(c.Reg(lo+1)))<<32
	return math.Float64frombits(bits)
}

func (c *CPU) setDouble(lo int, f float64) {
	bits := math.Float64bits(f)
	c.SetReg(lo, int32(uint32(bits)))
	c.SetReg(lo+1, int32(uint32(bits>>32)))
}

func sysPrintDouble(c *CPU) error {
	_, err := io.WriteString(c.outputSink(), strconv.FormatFloat(c.double(RegA0), 'g', -1, 64))
	return err
}

func sysPrintString(c *CPU) error {
	_, err := io.WriteString(c.outputSink(), c.ReadString(int(c.Reg(RegA0))))
	return err
}

func sysPrintChar(c *CPU) error {
	_, err := fmt.Fprintf(c.outputSink(), "%c", rune(c.Reg(RegA0)))
	return err
}

func (c *CPU) readToken() (string, error) {
	var tok string
	if _, err := fmt.Fscan(c.inputSource(), &tok); err != nil {
		return "", errors.Wrap(err, "read input")
	}
	return tok, nil
}

func sysReadInt(c *CPU) error {
	tok, err := c.readToken()
	if err != nil {
		return err
	}

	n, err := strconv.ParseInt(tok, 0, 32)
	if err != nil {
		return errors.Wrap(err, "read int")
	}

	c.SetReg(RegV0, int32(n))
	return nil
}

func sysReadFloat(c *CPU) error {
	tok, err := c.readToken()
	if err != nil {
		return err
	}

	f, err := strconv.ParseFloat(tok, 32)
	if err != nil {
		return errors.Wrap(err, "read float")
	}

	c.SetFloat(RegV0, float32(f))
	return nil
}

func sysReadDouble(c *CPU) error {
	tok, err := c.readToken()
	if err != nil {
		return err
	}

	f, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return errors.Wrap(err, "read double")
	}

	c.setDouble(RegV0, f)
	return nil
}

// sysReadString reads one line into the buffer at $a0, storing at most
// $a1-1 characters and a terminating NUL. $v0 gets the stored length.
func sysReadString(c *CPU) error {
	buf, max := int(c.Reg(RegA0)), int(c.Reg(RegA1))
	if max <= 0 {
		c.SetReg(RegV0, 0)
		return nil
	}

	line, err := c.inputSource().ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return errors.Wrap(err, "read string")
	}

	line = strings.TrimRight(line, "\r\n")
	if r := []rune(line); len(r) > max-1 {
		line = string(r[:max-1])
	}

	n := c.WriteString(buf, line)
	c.SetReg(RegV0, int32(n))

	return nil
}

func sysReadChar(c *CPU) error {
	r, _, err := c.inputSource().ReadRune()
	if err == io.EOF {
		c.SetReg(RegV0, -1)
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "read char")
	}

	c.SetReg(RegV0, r)
	return nil
}

// sysAlloc reserves $a0 cells behind a size header and returns the header
// address in $v0. Payload cell i lives at $v0+1+i.
func sysAlloc(c *CPU) error {
	n := int(c.Reg(RegA0))
	if n < 0 {
		return errors.New("allocate %d cells", n)
	}

	p := c.Heap
	if end := p + n + 1; end > int(c.Reg(RegSP)) {
		return errors.Wrap(ErrHeapExhausted, "allocate %d cells at %d, stack at %d", n, p, c.Reg(RegSP))
	}

	c.Memory[p] = int32(n)
	for i := p + 1; i <= p+n; i++ {
		c.Memory[i] = 0
	}

	c.Heap = p + n + 1
	c.SetReg(RegV0, int32(p))

	return nil
}

func sysExit(c *CPU) error {
	c.Halted = true
	c.ExitCode = 0
	return nil
}

func sysExitCode(c *CPU) error {
	c.Halted = true
	c.ExitCode = c.Reg(RegA0)
	return nil
}

// sysTime returns milliseconds since load, low word in $v0 and high word in $v1.
func sysTime(c *CPU) error {
	ms := time.Since(c.started).Milliseconds()
	c.SetReg(RegV0, int32(uint32(ms)))
	c.SetReg(RegV1, int32(uint32(uint64(ms)>>32)))
	return nil
}

func (c *CPU) debugBreak() error {
	regs := make([]interface{}, 0, 2*NumRegisters)
	for i := 0; i < NumRegisters; i++ {
		regs = append(regs, RegisterName(i), c.Reg(i))
	}

	tlog.Printw("debug break", append([]interface{}{"pc", c.PC(), "hi", c.HI, "lo", c.LO}, regs...)...)

	return nil
}
