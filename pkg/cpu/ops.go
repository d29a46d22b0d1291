package cpu

import (
	"math"

	"tlog.app/go/errors"
)

// Integer arithmetic wraps on overflow; there are no overflow traps.

func opAdd(c *CPU, in Instruction) error {
	c.SetReg(in.Rd, c.Reg(in.Rs)+c.Reg(in.Rt))
	return nil
}

func opSub(c *CPU, in Instruction) error {
	c.SetReg(in.Rd, c.Reg(in.Rs)-c.Reg(in.Rt))
	return nil
}

func opAnd(c *CPU, in Instruction) error {
	c.SetReg(in.Rd, c.Reg(in.Rs)&c.Reg(in.Rt))
	return nil
}

func opOr(c *CPU, in Instruction) error {
	c.SetReg(in.Rd, c.Reg(in.Rs)|c.Reg(in.Rt))
	return nil
}

func opXor(c *CPU, in Instruction) error {
	c.SetReg(in.Rd, c.Reg(in.Rs)^c.Reg(in.Rt))
	return nil
}

func opNor(c *CPU, in Instruction) error {
	c.SetReg(in.Rd, ^(c.Reg(in.Rs) | c.Reg(in.Rt)))
	return nil
}

func opSlt(c *CPU, in Instruction) error {
	c.SetReg(in.Rd, b2i(c.Reg(in.Rs) < c.Reg(in.Rt)))
	return nil
}

func opSltu(c *CPU, in Instruction) error {
	c.SetReg(in.Rd, b2i(uint32(c.Reg(in.Rs)) < uint32(c.Reg(in.Rt))))
	return nil
}

func opSll(c *CPU, in Instruction) error {
	c.SetReg(in.Rd, c.Reg(in.Rt)<<in.Shamt)
	return nil
}

func opSrl(c *CPU, in Instruction) error {
	c.SetReg(in.Rd, int32(uint32(c.Reg(in.Rt))>>in.Shamt))
	return nil
}

func opSra(c *CPU, in Instruction) error {
	c.SetReg(in.Rd, c.Reg(in.Rt)>>in.Shamt)
	return nil
}

func opSllv(c *CPU, in Instruction) error {
	c.SetReg(in.Rd, c.Reg(in.Rt)<<(uint32(c.Reg(in.Rs))&31))
	return nil
}

func opSrlv(c *CPU, in Instruction) error {
	c.SetReg(in.Rd, int32(uint32(c.Reg(in.Rt))>>(uint32(c.Reg(in.Rs))&31)))
	return nil
}

func opSrav(c *CPU, in Instruction) error {
	c.SetReg(in.Rd, c.Reg(in.Rt)>>(uint32(c.Reg(in.Rs))&31))
	return nil
}

func opMult(c *CPU, in Instruction) error {
	p := int64(c.Reg(in.Rs)) * int64(c.Reg(in.Rt))
	c.HI = int32(p >> 32)
	c.LO = int32(p)
	return nil
}

func opMultu(c *CPU, in Instruction) error {
	p := uint64(uint32(c.Reg(in.Rs))) * uint64(uint32(c.Reg(in.Rt)))
	c.HI = int32(uint32(p >> 32))
	c.LO = int32(uint32(p))
	return nil
}

func opMul(c *CPU, in Instruction) error {
	c.SetReg(in.Rd, c.Reg(in.Rs)*c.Reg(in.Rt))
	return nil
}

// opDiv truncates toward zero. MinInt32 / -1 wraps to MinInt32 with a zero remainder.
func opDiv(c *CPU, in Instruction) error {
	d := c.Reg(in.Rt)
	if d == 0 {
		return errors.Wrap(ErrDivideByZero, "div $%v", RegisterName(in.Rt))
	}

	n := c.Reg(in.Rs)
	c.LO = n / d
	c.HI = n % d
	return nil
}

func opDivu(c *CPU, in Instruction) error {
	d := uint32(c.Reg(in.Rt))
	if d == 0 {
		return errors.Wrap(ErrDivideByZero, "divu $%v", RegisterName(in.Rt))
	}

	n := uint32(c.Reg(in.Rs))
	c.LO = int32(n / d)
	c.HI = int32(n % d)
	return nil
}

func opMfhi(c *CPU, in Instruction) error {
	c.SetReg(in.Rd, c.HI)
	return nil
}

func opMflo(c *CPU, in Instruction) error {
	c.SetReg(in.Rd, c.LO)
	return nil
}

func opMthi(c *CPU, in Instruction) error {
	c.HI = c.Reg(in.Rs)
	return nil
}

func opMtlo(c *CPU, in Instruction) error {
	c.LO = c.Reg(in.Rs)
	return nil
}

func opAddi(c *CPU, in Instruction) error {
	c.SetReg(in.Rt, c.Reg(in.Rs)+in.SImm())
	return nil
}

func opSlti(c *CPU, in Instruction) error {
	c.SetReg(in.Rt, b2i(c.Reg(in.Rs) < in.SImm()))
	return nil
}

func opSltiu(c *CPU, in Instruction) error {
	c.SetReg(in.Rt, b2i(uint32(c.Reg(in.Rs)) < uint32(in.SImm())))
	return nil
}

func opAndi(c *CPU, in Instruction) error {
	c.SetReg(in.Rt, c.Reg(in.Rs)&int32(in.Imm))
	return nil
}

func opOri(c *CPU, in Instruction) error {
	c.SetReg(in.Rt, c.Reg(in.Rs)|int32(in.Imm))
	return nil
}

func opXori(c *CPU, in Instruction) error {
	c.SetReg(in.Rt, c.Reg(in.Rs)^int32(in.Imm))
	return nil
}

func opLui(c *CPU, in Instruction) error {
	c.SetReg(in.Rt, int32(in.Imm<<16))
	return nil
}

// Branch targets are absolute cell addresses.

func opBeq(c *CPU, in Instruction) error {
	if c.Reg(in.Rs) == c.Reg(in.Rt) {
		c.SetPC(int(in.Imm))
	}
	return nil
}

func opBne(c *CPU, in Instruction) error {
	if c.Reg(in.Rs) != c.Reg(in.Rt) {
		c.SetPC(int(in.Imm))
	}
	return nil
}

func opLw(c *CPU, in Instruction) error {
	addr := int(c.Reg(in.Rs) + in.SImm())
	c.SetReg(in.Rt, c.Memory[addr])
	return nil
}

func opSw(c *CPU, in Instruction) error {
	addr := int(c.Reg(in.Rs) + in.SImm())
	c.Memory[addr] = c.Reg(in.Rt)
	return nil
}

func opJ(c *CPU, in Instruction) error {
	c.SetPC(int(in.Target))
	return nil
}

// opJal links the already advanced program counter.
func opJal(c *CPU, in Instruction) error {
	c.SetReg(RegRA, int32(c.PC()))
	c.SetPC(int(in.Target))
	return nil
}

func opJr(c *CPU, in Instruction) error {
	c.SetPC(int(c.Reg(in.Rs)))
	return nil
}

func opJalr(c *CPU, in Instruction) error {
	target := c.Reg(in.Rs)
	c.SetReg(in.Rd, int32(c.PC()))
	c.SetPC(int(target))
	return nil
}

func opBreak(c *CPU, in Instruction) error {
	return c.debugBreak()
}

// Float handlers reinterpret cells as float32 bit patterns.

func (c *CPU) Float(i int) float32 {
	return math.Float32frombits(uint32(c.Reg(i)))
}

func (c *CPU) SetFloat(i int, f float32) {
	c.SetReg(i, int32(math.Float32bits(f)))
}

func opAddf(c *CPU, in Instruction) error {
	c.SetFloat(in.Rd, c.Float(in.Rs)+c.Float(in.Rt))
	return nil
}

func opSubf(c *CPU, in Instruction) error {
	c.SetFloat(in.Rd, c.Float(in.Rs)-c.Float(in.Rt))
	return nil
}

func opMulf(c *CPU, in Instruction) error {
	c.SetFloat(in.Rd, c.Float(in.Rs)*c.Float(in.Rt))
	return nil
}

func opDivf(c *CPU, in Instruction) error {
	c.SetFloat(in.Rd, c.Float(in.Rs)/c.Float(in.Rt))
	return nil
}

// Float comparisons produce integer 0 or 1.

func opSltf(c *CPU, in Instruction) error {
	c.SetReg(in.Rd, b2i(c.Float(in.Rs) < c.Float(in.Rt)))
	return nil
}

func opSlef(c *CPU, in Instruction) error {
	c.SetReg(in.Rd, b2i(c.Float(in.Rs) <= c.Float(in.Rt)))
	return nil
}

func opSeqf(c *CPU, in Instruction) error {
	c.SetReg(in.Rd, b2i(c.Float(in.Rs) == c.Float(in.Rt)))
	return nil
}

func opCvtif(c *CPU, in Instruction) error {
	c.SetFloat(in.Rd, float32(c.Reg(in.Rs)))
	return nil
}

// opCvtfi truncates toward zero.
func opCvtfi(c *CPU, in Instruction) error {
	f := c.Float(in.Rs)

	switch {
	case math.IsNaN(float64(f)):
		c.SetReg(in.Rd, 0)
	case f >= math.MaxInt32:
		c.SetReg(in.Rd, math.MaxInt32)
	case f <= math.MinInt32:
		c.SetReg(in.Rd, math.MinInt32)
	default:
		c.SetReg(in.Rd, int32(f))
	}

	return nil
}

func b2i(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
