package cpu

import (
	"fmt"
	"sort"
	"strings"

	"tlog.app/go/errors"

	"mipsim/pkg/bitfield"
)

type Format uint8

const (
	FormatR Format = iota
	FormatI
	FormatJ
)

func (f Format) String() string {
	switch f {
	case FormatR:
		return "R"
	case FormatI:
		return "I"
	case FormatJ:
		return "J"
	}
	return fmt.Sprintf("Format(%d)", uint8(f))
}

// Kind tells the assembler where a field's value comes from.
type Kind uint8

const (
	KindConst  Kind = iota // fixed value
	KindReg                // register name in an operand column
	KindImm                // literal or label in an operand column
	KindLabel              // branch or jump target
	KindBase               // register inside off(reg)
	KindOffset             // offset part of off(reg)
)

// Field roles.
const (
	RoleFunct  = "funct"
	RoleShamt  = "shamt"
	RoleRd     = "rd"
	RoleRt     = "rt"
	RoleRs     = "rs"
	RoleOpcode = "opcode"
	RoleImm    = "imm"
	RoleTarget = "target"
)

// Opcode groups selected by the funct field.
const (
	OpSpecial  uint32 = 0x00
	OpFloat    uint32 = 0x11
	OpSpecial2 uint32 = 0x1C
)

type Field struct {
	Role   string
	Kind   Kind
	Column int
	Const  uint32
	Width  uint
}

type Handler func(c *CPU, in Instruction) error

// Descriptor declares one instruction: its encoding and its handler.
// Fields are ordered lowest-order first.
type Descriptor struct {
	Mnemonic string
	Format   Format
	Opcode   uint32
	Funct    uint32
	Fields   []Field
	Handler  Handler
}

// Instruction is a decoded word.
type Instruction struct {
	Word   uint32
	Rs     int
	Rt     int
	Rd     int
	Shamt  uint32
	Imm    uint32
	Target uint32
}

// SImm returns the immediate sign-extended from 16 bits.
func (in Instruction) SImm() int32 {
	return bitfield.SignExtend(in.Imm, 16)
}

var formatLayouts = map[Format][]Field{
	FormatR: {
		{Role: RoleFunct, Width: 6},
		{Role: RoleShamt, Width: 5},
		{Role: RoleRd, Width: 5},
		{Role: RoleRt, Width: 5},
		{Role: RoleRs, Width: 5},
		{Role: RoleOpcode, Width: 6},
	},
	FormatI: {
		{Role: RoleImm, Width: 16},
		{Role: RoleRt, Width: 5},
		{Role: RoleRs, Width: 5},
		{Role: RoleOpcode, Width: 6},
	},
	FormatJ: {
		{Role: RoleTarget, Width: 26},
		{Role: RoleOpcode, Width: 6},
	},
}

// Layout returns the codec view of the descriptor's fields.
func (d *Descriptor) Layout() bitfield.Layout {
	l := make(bitfield.Layout, len(d.Fields))
	for i, f := range d.Fields {
		l[i] = bitfield.Field{Name: f.Role, Width: f.Width}
	}
	return l
}

// Operands is the number of operand columns the mnemonic takes.
func (d *Descriptor) Operands() int {
	n := 0
	for _, f := range d.Fields {
		if f.Kind != KindConst && f.Column+1 > n {
			n = f.Column + 1
		}
	}
	return n
}

// Pack encodes per-field values; constant fields ignore the given value.
func (d *Descriptor) Pack(values []uint32) (uint32, error) {
	if len(values) != len(d.Fields) {
		return 0, errors.New("%s: got %d values for %d fields", d.Mnemonic, len(values), len(d.Fields))
	}

	vals := make([]uint32, len(values))
	for i, f := range d.Fields {
		if f.Kind == KindConst {
			vals[i] = f.Const
		} else {
			vals[i] = values[i]
		}
	}

	return d.Layout().Pack(vals)
}

// Encode packs values keyed by field role.
func (d *Descriptor) Encode(roles map[string]uint32) (uint32, error) {
	values := make([]uint32, len(d.Fields))
	for i, f := range d.Fields {
		values[i] = roles[f.Role]
	}
	return d.Pack(values)
}

// Unpack returns per-field values in field order.
func (d *Descriptor) Unpack(word uint32) []uint32 {
	return d.Layout().Unpack(word)
}

func (d *Descriptor) Decode(word uint32) Instruction {
	in := Instruction{Word: word}

	for i, v := range d.Unpack(word) {
		switch d.Fields[i].Role {
		case RoleRs:
			in.Rs = int(v)
		case RoleRt:
			in.Rt = int(v)
		case RoleRd:
			in.Rd = int(v)
		case RoleShamt:
			in.Shamt = v
		case RoleImm:
			in.Imm = v
		case RoleTarget:
			in.Target = v
		}
	}

	return in
}

func (d *Descriptor) setConst(role string, v uint32) *Descriptor {
	for i := range d.Fields {
		if d.Fields[i].Role == role {
			d.Fields[i].Kind = KindConst
			d.Fields[i].Const = v
		}
	}
	return d
}

// newDescriptor builds a descriptor from its operand syntax.
// Operands name field roles in column order; "label" binds the branch or jump
// target and "off(rs)" binds an offset/base pair to a single column.
func newDescriptor(mnemonic string, format Format, opcode, funct uint32, h Handler, operands ...string) *Descriptor {
	d := &Descriptor{
		Mnemonic: mnemonic,
		Format:   format,
		Opcode:   opcode,
		Funct:    funct,
		Handler:  h,
	}

	d.Fields = append(d.Fields, formatLayouts[format]...)

	for i := range d.Fields {
		switch d.Fields[i].Role {
		case RoleOpcode:
			d.Fields[i].Const = opcode
		case RoleFunct:
			d.Fields[i].Const = funct
		}
	}

	bind := func(role string, kind Kind, col int) {
		for i := range d.Fields {
			if d.Fields[i].Role == role {
				d.Fields[i].Kind = kind
				d.Fields[i].Column = col
				return
			}
		}
		panic(fmt.Sprintf("%s: no %s field in %v format", mnemonic, role, format))
	}

	for col, op := range operands {
		switch op {
		case RoleRd, RoleRs, RoleRt:
			bind(op, KindReg, col)
		case RoleShamt, RoleImm:
			bind(op, KindImm, col)
		case "label":
			if format == FormatJ {
				bind(RoleTarget, KindLabel, col)
			} else {
				bind(RoleImm, KindLabel, col)
			}
		case "off(rs)":
			bind(RoleImm, KindOffset, col)
			bind(RoleRs, KindBase, col)
		default:
			panic(fmt.Sprintf("%s: unknown operand %q", mnemonic, op))
		}
	}

	return d
}

func special(mn string, funct uint32, h Handler, ops ...string) *Descriptor {
	return newDescriptor(mn, FormatR, OpSpecial, funct, h, ops...)
}

func float(mn string, funct uint32, h Handler, ops ...string) *Descriptor {
	return newDescriptor(mn, FormatR, OpFloat, funct, h, ops...)
}

func immediate(mn string, opcode uint32, h Handler, ops ...string) *Descriptor {
	return newDescriptor(mn, FormatI, opcode, 0, h, ops...)
}

func jump(mn string, opcode uint32, h Handler) *Descriptor {
	return newDescriptor(mn, FormatJ, opcode, 0, h, "label")
}

// InstructionSet is the immutable descriptor table shared by the assembler
// and the engine.
type InstructionSet struct {
	list   []*Descriptor
	byName map[string]*Descriptor
	byCode map[uint32]*Descriptor
}

func NewInstructionSet() *InstructionSet {
	list := []*Descriptor{
		special("sll", 0x00, opSll, "rd", "rt", "shamt"),
		special("srl", 0x02, opSrl, "rd", "rt", "shamt"),
		special("sra", 0x03, opSra, "rd", "rt", "shamt"),
		special("sllv", 0x04, opSllv, "rd", "rt", "rs"),
		special("srlv", 0x06, opSrlv, "rd", "rt", "rs"),
		special("srav", 0x07, opSrav, "rd", "rt", "rs"),
		special("jr", 0x08, opJr, "rs"),
		special("jalr", 0x09, opJalr, "rs").setConst(RoleRd, RegRA),
		special("syscall", 0x0C, opSyscall),
		special("break", 0x0D, opBreak),
		special("mfhi", 0x10, opMfhi, "rd"),
		special("mthi", 0x11, opMthi, "rs"),
		special("mflo", 0x12, opMflo, "rd"),
		special("mtlo", 0x13, opMtlo, "rs"),
		special("mult", 0x18, opMult, "rs", "rt"),
		special("multu", 0x19, opMultu, "rs", "rt"),
		special("div", 0x1A, opDiv, "rs", "rt"),
		special("divu", 0x1B, opDivu, "rs", "rt"),
		special("add", 0x20, opAdd, "rd", "rs", "rt"),
		special("addu", 0x21, opAdd, "rd", "rs", "rt"),
		special("sub", 0x22, opSub, "rd", "rs", "rt"),
		special("subu", 0x23, opSub, "rd", "rs", "rt"),
		special("and", 0x24, opAnd, "rd", "rs", "rt"),
		special("or", 0x25, opOr, "rd", "rs", "rt"),
		special("xor", 0x26, opXor, "rd", "rs", "rt"),
		special("nor", 0x27, opNor, "rd", "rs", "rt"),
		special("slt", 0x2A, opSlt, "rd", "rs", "rt"),
		special("sltu", 0x2B, opSltu, "rd", "rs", "rt"),

		newDescriptor("mul", FormatR, OpSpecial2, 0x02, opMul, "rd", "rs", "rt"),

		jump("j", 0x02, opJ),
		jump("jal", 0x03, opJal),

		immediate("beq", 0x04, opBeq, "rs", "rt", "label"),
		immediate("bne", 0x05, opBne, "rs", "rt", "label"),
		immediate("addi", 0x08, opAddi, "rt", "rs", "imm"),
		immediate("addiu", 0x09, opAddi, "rt", "rs", "imm"),
		immediate("slti", 0x0A, opSlti, "rt", "rs", "imm"),
		immediate("sltiu", 0x0B, opSltiu, "rt", "rs", "imm"),
		immediate("andi", 0x0C, opAndi, "rt", "rs", "imm"),
		immediate("ori", 0x0D, opOri, "rt", "rs", "imm"),
		immediate("xori", 0x0E, opXori, "rt", "rs", "imm"),
		immediate("lui", 0x0F, opLui, "rt", "imm"),
		immediate("lw", 0x23, opLw, "rt", "off(rs)"),
		immediate("sw", 0x2B, opSw, "rt", "off(rs)"),

		float("addf", 0x00, opAddf, "rd", "rs", "rt"),
		float("subf", 0x01, opSubf, "rd", "rs", "rt"),
		float("mulf", 0x02, opMulf, "rd", "rs", "rt"),
		float("divf", 0x03, opDivf, "rd", "rs", "rt"),
		float("sltf", 0x04, opSltf, "rd", "rs", "rt"),
		float("slef", 0x05, opSlef, "rd", "rs", "rt"),
		float("seqf", 0x06, opSeqf, "rd", "rs", "rt"),
		float("cvtif", 0x20, opCvtif, "rd", "rs"),
		float("cvtfi", 0x24, opCvtfi, "rd", "rs"),
	}

	s := &InstructionSet{
		list:   list,
		byName: make(map[string]*Descriptor, len(list)),
		byCode: make(map[uint32]*Descriptor, len(list)),
	}

	for _, d := range list {
		if _, dup := s.byName[d.Mnemonic]; dup {
			panic("duplicate mnemonic " + d.Mnemonic)
		}
		s.byName[d.Mnemonic] = d

		key := codeKey(d.Opcode, d.Funct)
		if _, dup := s.byCode[key]; dup {
			panic("duplicate encoding for " + d.Mnemonic)
		}
		s.byCode[key] = d
	}

	return s
}

// zeroExtended lists the immediates that are not sign-extended.
var zeroExtended = map[string]bool{
	"andi": true,
	"ori":  true,
	"xori": true,
	"lui":  true,
}

// ZeroExtended reports whether the mnemonic's immediate is zero-extended.
func ZeroExtended(mnemonic string) bool {
	return zeroExtended[mnemonic]
}

func grouped(opcode uint32) bool {
	return opcode == OpSpecial || opcode == OpFloat || opcode == OpSpecial2
}

func codeKey(opcode, funct uint32) uint32 {
	if !grouped(opcode) {
		funct = 0
	}
	return opcode<<6 | funct
}

// Lookup finds a descriptor by mnemonic.
func (s *InstructionSet) Lookup(mnemonic string) (*Descriptor, bool) {
	d, ok := s.byName[strings.ToLower(mnemonic)]
	return d, ok
}

// Decode finds the descriptor for an encoded word.
func (s *InstructionSet) Decode(word uint32) (*Descriptor, bool) {
	d, ok := s.byCode[codeKey(word>>26, word&0x3F)]
	return d, ok
}

// Descriptors returns the table sorted by mnemonic.
func (s *InstructionSet) Descriptors() []*Descriptor {
	out := make([]*Descriptor, len(s.list))
	copy(out, s.list)
	sort.Slice(out, func(i, j int) bool { return out[i].Mnemonic < out[j].Mnemonic })
	return out
}

// Disassemble renders a word back into assembler syntax.
func (s *InstructionSet) Disassemble(word uint32) string {
	if word == 0 {
		return "halt"
	}

	d, ok := s.Decode(word)
	if !ok {
		return fmt.Sprintf(".word %#08x", word)
	}

	values := d.Unpack(word)
	cols := make([]string, d.Operands())

	for i, f := range d.Fields {
		v := values[i]

		switch f.Kind {
		case KindReg:
			cols[f.Column] = "$" + RegisterName(int(v))
		case KindImm:
			if f.Role == RoleImm && !zeroExtended[d.Mnemonic] {
				cols[f.Column] = fmt.Sprintf("%d", bitfield.SignExtend(v, f.Width))
			} else {
				cols[f.Column] = fmt.Sprintf("%d", v)
			}
		case KindLabel:
			cols[f.Column] = fmt.Sprintf("%d", v)
		case KindOffset:
			cols[f.Column] = fmt.Sprintf("%d", bitfield.SignExtend(v, f.Width)) + cols[f.Column]
		case KindBase:
			cols[f.Column] = cols[f.Column] + "($" + RegisterName(int(v)) + ")"
		}
	}

	if len(cols) == 0 {
		return d.Mnemonic
	}
	return d.Mnemonic + " " + strings.Join(cols, ", ")
}
