package compiler

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/mileusna/conditional"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"mipsim/pkg/cpu"
)

// Reg names a register without its sigil.
type Reg string

const NoReg Reg = ""

func (r Reg) String() string { return "$" + string(r) }

func ParseReg(name string) (Reg, bool) {
	i, ok := cpu.RegisterIndex(name)
	if !ok {
		return NoReg, false
	}
	return Reg(cpu.RegisterName(i)), true
}

// Index is the register number, which is also its memory cell.
func (r Reg) Index() int {
	i, _ := cpu.RegisterIndex(string(r))
	return i
}

func tempReg(i int) Reg { return Reg(cpu.RegisterName(cpu.RegT0 + i)) }

func (r Reg) tempIndex() (int, bool) {
	if r == NoReg {
		return 0, false
	}
	i := r.Index() - cpu.RegT0
	return i, i >= 0 && i < NumTemps
}

func argReg(i int) Reg { return Reg(cpu.RegisterName(cpu.RegA0 + i)) }

const (
	regZero Reg = "zero"
	regV0   Reg = "v0"
	regA0   Reg = "a0"
	regS0   Reg = "s0"
	regSP   Reg = "sp"
	regRA   Reg = "ra"
)

var arithmeticOps = map[string]string{
	"+": "add",
	"-": "sub",
	"*": "mul",
	"/": "div",
}

// intOps have no float form.
var intOps = map[string]string{
	"%":  "rem",
	"&":  "and",
	"|":  "or",
	"^":  "xor",
	"<<": "sllv",
	">>": "srav",
}

var compareOps = map[string]string{
	"<":  "slt",
	"<=": "sle",
	">":  "sgt",
	">=": "sge",
	"==": "seq",
	"!=": "sne",
}

// Generator collects assembly text.
type Generator struct {
	out strings.Builder
}

func NewGenerator() *Generator {
	return &Generator{}
}

func (g *Generator) line(format string, args ...any) {
	fmt.Fprintf(&g.out, format+"\n", args...)
}

func (g *Generator) comment(format string, args ...any) {
	g.line("; "+format, args...)
}

func (g *Generator) label(l string) {
	g.line("%s:", l)
}

func (g *Generator) String() string {
	return g.out.String()
}

// convert rewrites r in place between int and float bit patterns.
func (g *Generator) convert(r Reg, from, to string) {
	switch {
	case from == TypeInt && to == TypeFloat:
		g.line("    cvtif %s, %s", r, r)
	case from == TypeFloat && to == TypeInt:
		g.line("    cvtfi %s, %s", r, r)
	}
}

// genValue generates n, which must leave its result in a register.
func genValue(g *Generator, s *Scope, n Node) (Reg, error) {
	r, err := n.Gen(g, s)
	if err != nil {
		return NoReg, err
	}
	if r == NoReg {
		return NoReg, errors.New("%s has no value", describe(n))
	}
	return r, nil
}

// genTyped generates n and converts the result to the wanted type.
func genTyped(g *Generator, s *Scope, n Node, want string) (Reg, error) {
	r, err := genValue(g, s, n)
	if err != nil {
		return NoReg, err
	}

	have, err := n.Type(s)
	if err != nil {
		return NoReg, err
	}

	g.convert(r, have, want)

	return r, nil
}

// saveSet is every register a call may clobber: arguments, live temps,
// the instance register and the return address, lowest number first.
func saveSet(s *Scope) []Reg {
	regs := []Reg{regRA, regS0}
	regs = append(regs, s.Live()...)
	for i := 0; i < MaxArgs; i++ {
		regs = append(regs, argReg(i))
	}

	sort.Slice(regs, func(i, j int) bool { return regs[i].Index() < regs[j].Index() })

	return regs
}

// save reserves len(regs) cells and stores the lowest register at the
// highest address.
func (g *Generator) save(s *Scope, regs []Reg) {
	n := len(regs)

	g.line("    addi $sp, $sp, -%d", n)
	for i, r := range regs {
		g.line("    sw %s, %d($sp)", r, n-1-i)
	}

	s.push(n)
}

func (g *Generator) restore(s *Scope, regs []Reg) {
	n := len(regs)

	for i := n - 1; i >= 0; i-- {
		g.line("    lw %s, %d($sp)", regs[i], n-1-i)
	}
	g.line("    addi $sp, $sp, %d", n)

	s.pop(n)
}

// call passes args in $a0..$a3 and recv in $s0, jumps to f and returns a
// fresh temp holding $v0, or NoReg for void functions.
func (g *Generator) call(s *Scope, f *Function, args []Reg, recv Reg) (Reg, error) {
	if f.builtin != nil {
		s.useBuiltin(f.Name)
	}

	regs := saveSet(s)
	g.save(s, regs)

	for i, r := range args {
		g.line("    move %s, %s", argReg(i), r)
	}
	if recv != NoReg && recv != regS0 {
		g.line("    move %s, %s", regS0, recv)
	}

	g.line("    jal %s", f.Label)

	g.restore(s, regs)

	for _, r := range args {
		s.Release(r)
	}
	s.Release(recv)

	if f.ReturnType == TypeVoid {
		return NoReg, nil
	}

	res, err := s.Acquire()
	if err != nil {
		return NoReg, err
	}
	g.line("    move %s, %s", res, regV0)

	return res, nil
}

// address leaves the address of the cell n refers to in a fresh temp.
// The variable's own slot is never dereferenced unless an element or a
// property behind it is accessed, so a plain store overwrites the slot.
func (g *Generator) address(s *Scope, n *VarRef) (Reg, error) {
	v, err := s.LookupVariable(n.Name)
	if err != nil {
		return NoReg, err
	}

	a, err := s.Acquire()
	if err != nil {
		return NoReg, err
	}

	switch v.Storage {
	case StorageGlobal:
		g.line("    la %s, %s    ; &%s (global)", a, v.Label, v.Name)
	case StorageLocal:
		g.line("    addi %s, %s, %d    ; &%s (local)", a, regSP, v.Offset+s.Depth(), v.Name)
	case StorageArgument:
		g.line("    li %s, %d    ; &%s (argument %s)", a, argReg(v.Offset).Index(), v.Name, argReg(v.Offset))
	case StorageMember:
		g.line("    addi %s, %s, %d    ; &%s (member)", a, regS0, v.Offset, v.Name)
	}

	typ := v.Type

	if n.Index != nil {
		if !v.IsArray && v.Type != TypeString {
			return NoReg, errors.New("cannot index %s of type %s", v.Name, v.Type)
		}

		idx, err := genTyped(g, s, n.Index, TypeInt)
		if err != nil {
			return NoReg, err
		}

		g.line("    lw %s, 0(%s)", a, a)
		g.line("    add %s, %s, %s    ; &%s[]", a, a, idx)
		s.Release(idx)

		if v.Type == TypeString && !v.IsArray {
			typ = TypeInt
		}
	}

	if n.Property != "" {
		c, err := s.LookupClass(typ)
		if err != nil {
			return NoReg, err
		}

		p, ok := c.Property(n.Property)
		if !ok {
			return NoReg, errors.Wrap(ErrUndeclared, "property %s.%s", c.Name, n.Property)
		}

		g.line("    lw %s, 0(%s)", a, a)
		g.line("    addi %s, %s, %d    ; .%s", a, a, p.Offset, p.Name)
	}

	return a, nil
}

// store writes v into the cell target refers to.
func (g *Generator) store(s *Scope, target *VarRef, v Reg) error {
	a, err := g.address(s, target)
	if err != nil {
		return err
	}

	g.line("    sw %s, 0(%s)", v, a)
	s.Release(a)

	return nil
}

func (n *IntLit) Gen(g *Generator, s *Scope) (Reg, error) {
	r, err := s.Acquire()
	if err != nil {
		return NoReg, err
	}
	g.line("    li %s, %d", r, n.Value)
	return r, nil
}

func (n *FloatLit) Gen(g *Generator, s *Scope) (Reg, error) {
	r, err := s.Acquire()
	if err != nil {
		return NoReg, err
	}
	g.line("    li %s, %d    ; %g", r, int32(math.Float32bits(n.Value)), n.Value)
	return r, nil
}

func (n *StringLit) Gen(g *Generator, s *Scope) (Reg, error) {
	r, err := s.Acquire()
	if err != nil {
		return NoReg, err
	}
	g.line("    la %s, %s", r, s.stringLabel(n.Value))
	return r, nil
}

func (n *VarRef) Gen(g *Generator, s *Scope) (Reg, error) {
	a, err := g.address(s, n)
	if err != nil {
		return NoReg, err
	}
	g.line("    lw %s, 0(%s)", a, a)
	return a, nil
}

func (n *AddressOf) Gen(g *Generator, s *Scope) (Reg, error) {
	return g.address(s, n.Var)
}

func (n *Assign) Gen(g *Generator, s *Scope) (Reg, error) {
	tt, err := n.Target.Type(s)
	if err != nil {
		return NoReg, err
	}

	v, err := genTyped(g, s, n.Value, tt)
	if err != nil {
		return NoReg, err
	}

	if err := g.store(s, n.Target, v); err != nil {
		return NoReg, err
	}

	return v, nil
}

func (n *BinaryOp) Gen(g *Generator, s *Scope) (Reg, error) {
	lt, err := n.Left.Type(s)
	if err != nil {
		return NoReg, err
	}
	rt, err := n.Right.Type(s)
	if err != nil {
		return NoReg, err
	}

	l, err := genValue(g, s, n.Left)
	if err != nil {
		return NoReg, err
	}
	r, err := genValue(g, s, n.Right)
	if err != nil {
		return NoReg, err
	}

	isFloat := lt == TypeFloat || rt == TypeFloat
	result := TypeInt

	switch n.Op {
	case "||":
		g.line("    or %s, %s, %s", l, l, r)
		g.line("    sltu %s, %s, %s", l, regZero, l)
	case "&&":
		g.line("    sltu %s, %s, %s", l, regZero, l)
		g.line("    sltu %s, %s, %s", r, regZero, r)
		g.line("    and %s, %s, %s", l, l, r)
	default:
		mn, arith := arithmeticOps[n.Op]
		if !arith {
			mn = compareOps[n.Op]
		}

		if mn == "" {
			var ok bool
			if mn, ok = intOps[n.Op]; !ok {
				return NoReg, errors.New("unknown operator %q", n.Op)
			}
			if isFloat {
				return NoReg, errors.New("operator %q needs int operands, got %s and %s", n.Op, lt, rt)
			}
		}

		if isFloat {
			// only the int side is converted
			if lt != TypeFloat {
				g.convert(l, lt, TypeFloat)
			}
			if rt != TypeFloat {
				g.convert(r, rt, TypeFloat)
			}
		}

		g.line("    %s %s, %s, %s", conditional.String(isFloat, mn+"f", mn), l, l, r)

		if arith && isFloat {
			result = TypeFloat
		}
	}

	s.Release(r)

	want, err := n.Type(s)
	if err != nil {
		return NoReg, err
	}
	g.convert(l, result, want)

	if n.SelfAssign {
		target, ok := n.Left.(*VarRef)
		if !ok {
			return NoReg, errors.New("compound assignment to %v", n.Left)
		}
		if err := g.store(s, target, l); err != nil {
			return NoReg, err
		}
	}

	return l, nil
}

func (n *Call) resolve(s *Scope) (*Function, error) {
	if n.Receiver != nil {
		rt, err := n.Receiver.Type(s)
		if err != nil {
			return nil, err
		}
		return s.LookupMethod(rt, n.Name)
	}

	if c := s.Class(); c != nil {
		if f, ok := c.Methods[n.Name]; ok {
			return f, nil
		}
	}

	return s.LookupFunction(n.Name)
}

func (n *Call) Gen(g *Generator, s *Scope) (Reg, error) {
	f, err := n.resolve(s)
	if err != nil {
		return NoReg, err
	}

	if len(n.Args) != len(f.Params) {
		return NoReg, errors.New("%s takes %d arguments, got %d", f.Name, len(f.Params), len(n.Args))
	}
	if len(n.Args) > MaxArgs {
		return NoReg, errors.New("%s: more than %d arguments", f.Name, MaxArgs)
	}

	args := make([]Reg, len(n.Args))
	for i, a := range n.Args {
		if args[i], err = genTyped(g, s, a, f.Params[i].Type); err != nil {
			return NoReg, err
		}
	}

	recv := NoReg
	switch {
	case n.Receiver != nil:
		if recv, err = genValue(g, s, n.Receiver); err != nil {
			return NoReg, err
		}
	case f.Class != nil:
		recv = regS0
	}

	return g.call(s, f, args, recv)
}

func (n *New) Gen(g *Generator, s *Scope) (Reg, error) {
	c, err := s.LookupClass(n.Class)
	if err != nil {
		return NoReg, err
	}

	ctor := &Function{Name: c.ConstructorLabel(), ReturnType: c.Name, Label: c.ConstructorLabel()}

	p, err := g.call(s, ctor, nil, NoReg)
	if err != nil {
		return NoReg, err
	}

	for _, in := range n.Init {
		prop, ok := c.Property(in.Name)
		if !ok {
			return NoReg, errors.Wrap(ErrUndeclared, "property %s.%s", c.Name, in.Name)
		}

		v, err := genTyped(g, s, in.Value, prop.Type)
		if err != nil {
			return NoReg, err
		}

		g.line("    sw %s, %d(%s)    ; .%s", v, prop.Offset, p, prop.Name)
		s.Release(v)
	}

	return p, nil
}

// Gen releases every temp a statement acquired once the statement is done.
func (n *Block) Gen(g *Generator, s *Scope) (Reg, error) {
	sc := n.Scope
	if sc == nil {
		sc = s
	}

	for _, st := range n.Stmts {
		before := sc.u.temps

		if tlog.If("codegen") {
			g.comment("%s", describe(st))
		}

		if _, err := st.Gen(g, sc); err != nil {
			return NoReg, err
		}

		for i := range sc.u.temps {
			if !before[i] {
				sc.u.temps[i] = false
			}
		}
	}

	return NoReg, nil
}

func describe(n Node) string {
	if st, ok := n.(fmt.Stringer); ok {
		return st.String()
	}
	return fmt.Sprintf("%T", n)
}

// cond evaluates c and branches to skip when it is zero.
func (g *Generator) cond(s *Scope, c Node, skip string) error {
	r, err := genValue(g, s, c)
	if err != nil {
		return err
	}

	g.line("    beqz %s, %s", r, skip)
	s.Release(r)

	return nil
}

func genBody(g *Generator, s *Scope, body Node) error {
	if body == nil {
		return nil
	}

	before := s.u.temps
	_, err := body.Gen(g, s)
	s.u.temps = before

	return err
}

func (n *If) Gen(g *Generator, s *Scope) (Reg, error) {
	end := s.NewLabel("endif")

	for _, b := range n.Branches {
		next := s.NewLabel("else")

		if err := g.cond(s, b.Cond, next); err != nil {
			return NoReg, err
		}
		if err := genBody(g, s, b.Body); err != nil {
			return NoReg, err
		}

		g.line("    j %s", end)
		g.label(next)
	}

	if err := genBody(g, s, n.Else); err != nil {
		return NoReg, err
	}

	g.label(end)

	return NoReg, nil
}

func (n *While) Gen(g *Generator, s *Scope) (Reg, error) {
	start := s.NewLabel("while")
	end := s.NewLabel("endwhile")

	g.label(start)

	if err := g.cond(s, n.Cond, end); err != nil {
		return NoReg, err
	}
	if err := genBody(g, s, n.Body); err != nil {
		return NoReg, err
	}

	g.line("    j %s", start)
	g.label(end)

	return NoReg, nil
}

func (n *FuncDef) resolve(s *Scope) (*Function, error) {
	if n.Class != "" {
		return s.LookupMethod(n.Class, n.Name)
	}
	return s.LookupFunction(n.Name)
}

func (n *FuncDef) Gen(g *Generator, s *Scope) (Reg, error) {
	f, err := n.resolve(s)
	if err != nil {
		return NoReg, err
	}

	end := s.NewLabel("endfn")

	g.line("    j %s", end)
	if err := g.function(s, f, n.Body); err != nil {
		return NoReg, err
	}
	g.label(end)

	return NoReg, nil
}

// function emits label, prologue, body and epilogue. The body starts with
// an empty temp pool and a zero stack depth.
func (g *Generator) function(s *Scope, f *Function, body *Block) error {
	sc := f.body
	if body != nil && body.Scope != nil {
		sc = body.Scope
	}
	if sc == nil {
		return errors.New("function %s has no body scope", f.Name)
	}

	temps, depth := s.u.temps, s.u.depth
	s.u.temps, s.u.depth = [NumTemps]bool{}, 0
	defer func() { s.u.temps, s.u.depth = temps, depth }()

	f.ret = s.NewLabel("ret")
	frame := sc.FrameSize()

	g.label(f.Label)
	if frame > 0 {
		g.line("    addi $sp, $sp, -%d", frame)
	}

	if body != nil {
		if _, err := body.Gen(g, sc); err != nil {
			return errors.Wrap(err, "function %s", f.Name)
		}
	}

	g.label(f.ret)
	if frame > 0 {
		g.line("    addi $sp, $sp, %d", frame)
	}
	g.line("    jr $ra")

	return nil
}

func (n *ClassDef) Gen(g *Generator, s *Scope) (Reg, error) {
	c, err := s.LookupClass(n.Name)
	if err != nil {
		return NoReg, err
	}

	end := s.NewLabel("endclass")

	g.line("    j %s", end)

	g.label(c.ConstructorLabel())
	g.line("    li %s, %d", regA0, c.Size)
	g.line("    li %s, %d    ; alloc", regV0, cpu.SysAlloc)
	g.line("    syscall")
	g.line("    jr $ra")

	for _, m := range n.Methods {
		f, err := s.LookupMethod(c.Name, m.Name)
		if err != nil {
			return NoReg, err
		}
		if err := g.function(s, f, m.Body); err != nil {
			return NoReg, err
		}
	}

	g.label(end)

	return NoReg, nil
}

func (n *Return) Gen(g *Generator, s *Scope) (Reg, error) {
	f := s.Function()

	if f == nil {
		if n.Value != nil {
			r, err := genTyped(g, s, n.Value, TypeInt)
			if err != nil {
				return NoReg, err
			}
			g.line("    move %s, %s", regA0, r)
			s.Release(r)
		}

		g.line("    li %s, %d", regV0, conditional.Int(n.Value != nil, cpu.SysExitCode, cpu.SysExit))
		g.line("    syscall")

		return NoReg, nil
	}

	if n.Value != nil {
		if f.ReturnType == TypeVoid {
			return NoReg, errors.New("void function %s returns a value", f.Name)
		}

		r, err := genTyped(g, s, n.Value, f.ReturnType)
		if err != nil {
			return NoReg, err
		}
		g.line("    move %s, %s", regV0, r)
		s.Release(r)
	}

	g.line("    j %s", f.ret)

	return NoReg, nil
}

func (n *Asm) Gen(g *Generator, s *Scope) (Reg, error) {
	for _, l := range strings.Split(n.Text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			g.line("    %s", l)
		}
	}
	return NoReg, nil
}

// data emits globals and string literals.
func (g *Generator) data(s *Scope) {
	globals := s.Globals()
	if len(globals) == 0 && len(s.u.strList) == 0 {
		return
	}

	g.comment("data")

	for _, v := range globals {
		g.line("%s: .word 1", v.Label)
	}

	for _, str := range s.u.strList {
		g.line("%s: .asciiz %s", s.u.strings[str], strconv.Quote(str))
	}
}
