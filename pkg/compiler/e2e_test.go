package compiler_test

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "mipsim/pkg/compiler"
	"mipsim/pkg/cpu"
)

func num(v int32) *IntLit                 { return &IntLit{Value: v} }
func flt(v float32) *FloatLit             { return &FloatLit{Value: v} }
func str(v string) *StringLit             { return &StringLit{Value: v} }
func ref(name string) *VarRef             { return &VarRef{Name: name} }
func bin(op string, l, r Node) *BinaryOp  { return &BinaryOp{Op: op, Left: l, Right: r} }
func set(name string, v Node) *Assign     { return &Assign{Target: ref(name), Value: v} }
func call(name string, args ...Node) *Call { return &Call{Name: name, Args: args} }
func printInt(n Node) *Call               { return call("print_int", n) }

func inc(name string, by Node) *BinaryOp {
	return &BinaryOp{Op: "+", Left: ref(name), Right: by, SelfAssign: true}
}

type result struct {
	out string
	cpu *cpu.CPU
	*Output
}

func run(t *testing.T, s *Scope, stmts ...Node) result {
	t.Helper()

	out, err := Compile(context.Background(), &Block{Scope: s, Stmts: stmts}, s)
	if out != nil && err != nil {
		t.Logf("assembly:\n%s", out.Assembly)
	}
	require.NoError(t, err)

	var buf bytes.Buffer
	c := cpu.New(cpu.Config{MemorySize: 8192, MaxSteps: 500000, Stdout: &buf}, nil)
	require.NoError(t, c.Load(out.Program.Image))
	require.NoError(t, c.Run(), "assembly:\n%s", out.Assembly)

	return result{out: buf.String(), cpu: c, Output: out}
}

func (r result) global(t *testing.T, name string) int32 {
	t.Helper()

	addr, ok := r.Program.Labels[name]
	require.True(t, ok, "no label %s", name)

	return r.cpu.Memory[addr]
}

func TestIntegerArithmetic(t *testing.T) {
	tests := []struct {
		name string
		expr Node
		want string
	}{
		{"add", bin("+", num(4), num(4)), "8"},
		{"product of sum", bin("*", bin("+", num(4), num(4)), num(2)), "16"},
		{"sum of product", bin("+", num(4), bin("*", num(4), num(2))), "12"},
		{"sub", bin("-", num(3), num(10)), "-7"},
		{"div truncates", bin("/", num(-7), num(2)), "-3"},
		{"rem", bin("%", num(-7), num(2)), "-1"},
		{"shift left", bin("<<", num(1), num(4)), "16"},
		{"shift right keeps sign", bin(">>", num(-16), num(2)), "-4"},
		{"and", bin("&", num(12), num(10)), "8"},
		{"or", bin("|", num(12), num(10)), "14"},
		{"xor", bin("^", num(12), num(10)), "6"},
		{"lt", bin("<", num(1), num(2)), "1"},
		{"le", bin("<=", num(2), num(2)), "1"},
		{"gt", bin(">", num(1), num(2)), "0"},
		{"ge", bin(">=", num(1), num(2)), "0"},
		{"eq", bin("==", num(-5), num(-5)), "1"},
		{"ne", bin("!=", num(-5), num(-5)), "0"},
		{"large literal", bin("+", num(100000), num(1)), "100001"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := run(t, NewScope(), printInt(tc.expr))
			assert.Equal(t, tc.want, r.out)
		})
	}
}

func TestLogicalNormalizes(t *testing.T) {
	tests := []struct {
		op   string
		l, r int32
		want string
	}{
		{"||", 1, 1, "1"},
		{"||", 0, 65, "1"},
		{"||", -65, 0, "1"},
		{"||", 0, 0, "0"},
		{"&&", 1, 1, "1"},
		{"&&", 65, -1, "1"},
		{"&&", 1, 65, "1"},
		{"&&", 0, 65, "0"},
		{"&&", 7, 0, "0"},
	}

	for _, tc := range tests {
		r := run(t, NewScope(), printInt(bin(tc.op, num(tc.l), num(tc.r))))
		assert.Equal(t, tc.want, r.out, "%d %s %d", tc.l, tc.op, tc.r)
	}
}

func TestWhileLoop(t *testing.T) {
	s := NewScope()
	s.DeclareGlobal("a", TypeInt, false)
	s.DeclareGlobal("iterations", TypeInt, false)

	r := run(t, s,
		set("a", num(0)),
		set("iterations", num(0)),
		&While{
			Cond: bin("<", ref("a"), num(10)),
			Body: &Block{Stmts: []Node{
				inc("a", num(1)),
				inc("iterations", num(1)),
			}},
		},
	)

	assert.Equal(t, int32(10), r.global(t, "a"))
	assert.Equal(t, int32(10), r.global(t, "iterations"))
}

func TestIfChain(t *testing.T) {
	grade := func(score int32) string {
		s := NewScope()
		s.DeclareGlobal("x", TypeInt, false)

		r := run(t, s,
			set("x", num(score)),
			&If{
				Branches: []Branch{
					{Cond: bin(">=", ref("x"), num(90)), Body: printInt(num(1))},
					{Cond: bin(">=", ref("x"), num(70)), Body: printInt(num(2))},
				},
				Else: printInt(num(3)),
			},
			&If{Branches: []Branch{{Cond: num(0), Body: printInt(num(9))}}},
		)
		return r.out
	}

	assert.Equal(t, "1", grade(95))
	assert.Equal(t, "2", grade(75))
	assert.Equal(t, "3", grade(10))
}

func TestClassInstantiation(t *testing.T) {
	s := NewScope()
	s.DeclareClass("Person", Param{Name: "name", Type: TypeString}, Param{Name: "age", Type: TypeInt})
	s.DeclareGlobal("p", "Person", false)

	r := run(t, s,
		&ClassDef{Name: "Person"},
		set("p", &New{Class: "Person", Init: []PropInit{
			{Name: "name", Value: str("bob")},
			{Name: "age", Value: num(42)},
		}}),
		printInt(&VarRef{Name: "p", Property: "age"}),
		call("print_string", &VarRef{Name: "p", Property: "name"}),
	)

	assert.Equal(t, "42bob", r.out)

	ptr := int(r.global(t, "p"))
	assert.Equal(t, int32(2), r.cpu.Memory[ptr], "size header")
	assert.Equal(t, "bob", r.cpu.ReadString(int(r.cpu.Memory[ptr+1])))
	assert.Equal(t, int32(42), r.cpu.Memory[ptr+2])
}

func TestMethods(t *testing.T) {
	s := NewScope()
	counter := s.DeclareClass("Counter", Param{Name: "count", Type: TypeInt})
	s.DeclareGlobal("c", "Counter", false)

	s.DeclareMethod(counter, "add", TypeInt, Param{Name: "n", Type: TypeInt})
	s.DeclareMethod(counter, "double", TypeInt)

	r := run(t, s,
		&ClassDef{Name: "Counter", Methods: []*FuncDef{
			{Name: "add", Body: &Block{Stmts: []Node{
				inc("count", ref("n")),
				&Return{Value: ref("count")},
			}}},
			{Name: "double", Body: &Block{Stmts: []Node{
				&Return{Value: call("add", ref("count"))},
			}}},
		}},
		set("c", &New{Class: "Counter", Init: []PropInit{{Name: "count", Value: num(5)}}}),
		&Call{Name: "add", Receiver: ref("c"), Args: []Node{num(3)}},
		printInt(&Call{Name: "add", Receiver: ref("c"), Args: []Node{num(2)}}),
		call("print_char", num(' ')),
		printInt(&Call{Name: "double", Receiver: ref("c")}),
	)

	assert.Equal(t, "10 20", r.out)
}

func TestParameterShadowsProperty(t *testing.T) {
	s := NewScope()
	box := s.DeclareClass("Box", Param{Name: "v", Type: TypeInt}, Param{Name: "w", Type: TypeInt})
	s.DeclareGlobal("b", "Box", false)

	s.DeclareMethod(box, "put", TypeInt, Param{Name: "v", Type: TypeInt})

	r := run(t, s,
		&ClassDef{Name: "Box", Methods: []*FuncDef{
			{Name: "put", Body: &Block{Stmts: []Node{
				&Return{Value: bin("+", ref("v"), ref("w"))},
			}}},
		}},
		set("b", &New{Class: "Box", Init: []PropInit{
			{Name: "v", Value: num(1)},
			{Name: "w", Value: num(100)},
		}}),
		printInt(&Call{Name: "put", Receiver: ref("b"), Args: []Node{num(42)}}),
		call("print_char", num(' ')),
		printInt(&VarRef{Name: "b", Property: "v"}),
	)

	assert.Equal(t, "142 1", r.out)
}

func TestMixedTypesConvertOneOperand(t *testing.T) {
	s := NewScope()
	s.DeclareGlobal("x", TypeFloat, false)

	sum := bin("+", num(1), flt(2.5))
	typ, err := sum.Type(s)
	require.NoError(t, err)
	assert.Equal(t, TypeFloat, typ)

	r := run(t, s, set("x", sum), call("print_float", ref("x")))

	assert.Equal(t, "3.5", r.out)
	assert.Equal(t, 1, strings.Count(r.Assembly, "cvtif"))
	assert.Equal(t, 0, strings.Count(r.Assembly, "cvtfi"))
	assert.Contains(t, r.Assembly, "addf")
}

func TestFloatCoercion(t *testing.T) {
	tests := []struct {
		name  string
		stmts []Node
		want  string
	}{
		{"float product", []Node{call("print_float", bin("*", flt(1.5), flt(3)))}, "4.5"},
		{"float division", []Node{call("print_float", bin("/", num(1), flt(4)))}, "0.25"},
		{"int parameter truncates", []Node{printInt(flt(7.9))}, "7"},
		{"float parameter converts", []Node{call("print_float", num(2))}, "2"},
		{"float compare is int", []Node{printInt(bin("<", flt(1.5), num(2)))}, "1"},
		{"declared float compare", []Node{call("print_float", &BinaryOp{Op: ">", Left: flt(1.5), Right: num(2), Declared: TypeFloat})}, "0"},
		{"declared float logical", []Node{call("print_float", &BinaryOp{Op: "||", Left: num(0), Right: num(3), Declared: TypeFloat})}, "1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := run(t, NewScope(), tc.stmts...)
			assert.Equal(t, tc.want, r.out)
		})
	}
}

func TestFloatOnlyOperatorRejected(t *testing.T) {
	_, err := Compile(context.Background(), &Block{Stmts: []Node{printInt(bin("%", flt(1), num(2)))}}, NewScope())
	assert.Error(t, err)
}

func TestCallPreservesRegisters(t *testing.T) {
	s := NewScope()
	s.DeclareFunction("clobber", TypeInt)

	clobber := &FuncDef{Name: "clobber", Body: &Block{Stmts: []Node{
		&Asm{Text: `
			li $t0, 99
			li $t1, 99
			li $t2, 99
			li $t3, 99
			li $t4, 99
			li $t5, 99
			li $t6, 99
			li $t7, 99
			li $a0, 99
			li $s0, 99
		`},
		&Return{Value: num(0)},
	}}}

	// nest puts depth operands in live temps around the call
	nest := func(depth int) (Node, int32) {
		var n Node = call("clobber")
		var want int32
		for i := depth; i > 0; i-- {
			n = bin("+", num(int32(i)), n)
			want += int32(i)
		}
		return n, want
	}

	for depth := 0; depth <= 6; depth++ {
		expr, want := nest(depth)

		r := run(t, s, clobber, printInt(expr))

		assert.Equal(t, strconv.Itoa(int(want)), r.out, "depth %d", depth)
		assert.Equal(t, int32(r.cpu.StackTop()), r.cpu.Reg(cpu.RegSP), "depth %d", depth)
	}
}

func TestRecursion(t *testing.T) {
	s := NewScope()
	s.DeclareFunction("fact", TypeInt, Param{Name: "n", Type: TypeInt})

	r := run(t, s,
		&FuncDef{Name: "fact", Body: &Block{Stmts: []Node{
			&If{Branches: []Branch{{
				Cond: bin("<=", ref("n"), num(1)),
				Body: &Return{Value: num(1)},
			}}},
			&Return{Value: bin("*", ref("n"), call("fact", bin("-", ref("n"), num(1))))},
		}}},
		printInt(call("fact", num(6))),
	)

	assert.Equal(t, "720", r.out)
	assert.Equal(t, int32(r.cpu.StackTop()), r.cpu.Reg(cpu.RegSP))
}

func TestLocals(t *testing.T) {
	s := NewScope()
	s.DeclareFunction("id", TypeInt, Param{Name: "v", Type: TypeInt})
	_, body := s.DeclareFunction("sum", TypeInt, Param{Name: "n", Type: TypeInt})
	body.DeclareLocal("acc", TypeInt, false)
	body.DeclareLocal("i", TypeInt, false)

	r := run(t, s,
		&FuncDef{Name: "id", Body: &Block{Stmts: []Node{&Return{Value: ref("v")}}}},
		&FuncDef{Name: "sum", Body: &Block{Stmts: []Node{
			set("acc", num(0)),
			set("i", num(0)),
			&While{
				Cond: bin("<", ref("i"), ref("n")),
				Body: &Block{Stmts: []Node{
					inc("i", num(1)),
					inc("acc", call("id", ref("i"))),
				}},
			},
			&Return{Value: ref("acc")},
		}}},
		printInt(call("sum", num(10))),
	)

	assert.Equal(t, "55", r.out)
}

func TestArraysAndStrings(t *testing.T) {
	s := NewScope()
	s.DeclareGlobal("arr", TypeInt, true)
	s.DeclareGlobal("i", TypeInt, false)
	s.DeclareGlobal("msg", TypeString, false)

	_, body := s.DeclareFunction("length", TypeInt, Param{Name: "text", Type: TypeString})
	body.DeclareLocal("n", TypeInt, false)

	r := run(t, s,
		&FuncDef{Name: "length", Body: &Block{Stmts: []Node{
			set("n", num(0)),
			&While{
				Cond: bin("!=", &VarRef{Name: "text", Index: ref("n")}, num(0)),
				Body: inc("n", num(1)),
			},
			&Return{Value: ref("n")},
		}}},
		set("arr", call("alloc", num(5))),
		set("i", num(0)),
		&While{
			Cond: bin("<", ref("i"), num(5)),
			Body: &Block{Stmts: []Node{
				&Assign{Target: &VarRef{Name: "arr", Index: ref("i")}, Value: bin("*", ref("i"), ref("i"))},
				inc("i", num(1)),
			}},
		},
		printInt(&VarRef{Name: "arr", Index: num(3)}),
		set("msg", str("hello")),
		call("print_char", &VarRef{Name: "msg", Index: num(1)}),
		printInt(call("length", ref("msg"))),
	)

	assert.Equal(t, "9e5", r.out)

	ptr := int(r.global(t, "arr"))
	assert.Equal(t, int32(5), r.cpu.Memory[ptr-1], "alloc header precedes the payload")
	assert.Equal(t, int32(16), r.cpu.Memory[ptr+4])
}

func TestArrayElementsOfInstances(t *testing.T) {
	s := NewScope()
	s.DeclareClass("Pair", Param{Name: "a", Type: TypeInt}, Param{Name: "b", Type: TypeInt})
	s.DeclareGlobal("ps", "Pair", true)
	s.DeclareGlobal("i", TypeInt, false)

	_, body := s.DeclareFunction("sum3", TypeInt)
	body.DeclareLocal("loc", TypeInt, true)
	body.DeclareLocal("k", TypeInt, false)

	elem := func(prop string) *VarRef { return &VarRef{Name: "ps", Index: ref("i"), Property: prop} }
	loc := func(idx Node) *VarRef { return &VarRef{Name: "loc", Index: idx} }

	r := run(t, s,
		&ClassDef{Name: "Pair"},
		&FuncDef{Name: "sum3", Body: &Block{Stmts: []Node{
			set("loc", call("alloc", num(3))),
			set("k", num(0)),
			&While{
				Cond: bin("<", ref("k"), num(3)),
				Body: &Block{Stmts: []Node{
					&Assign{Target: loc(ref("k")), Value: bin("*", ref("k"), ref("k"))},
					inc("k", num(1)),
				}},
			},
			&Return{Value: bin("+", loc(num(1)), bin("*", loc(num(2)), num(2)))},
		}}},
		set("ps", call("alloc", num(2))),
		set("i", num(1)),
		&Assign{Target: &VarRef{Name: "ps", Index: ref("i")}, Value: &New{Class: "Pair", Init: []PropInit{
			{Name: "a", Value: num(5)},
			{Name: "b", Value: num(6)},
		}}},
		&Assign{Target: elem("b"), Value: num(77)},
		printInt(call("sum3")),
		call("print_char", num(' ')),
		printInt(elem("b")),
	)

	assert.Equal(t, "9 77", r.out)

	ps := int(r.global(t, "ps"))
	inst := int(r.cpu.Memory[ps+1])
	assert.Equal(t, int32(2), r.cpu.Memory[inst], "size header")
	assert.Equal(t, int32(5), r.cpu.Memory[inst+1])
	assert.Equal(t, int32(77), r.cpu.Memory[inst+2])
	assert.Equal(t, int32(r.cpu.StackTop()), r.cpu.Reg(cpu.RegSP))
}

func TestShadowedTopLevelVariable(t *testing.T) {
	s := NewScope()
	s.DeclareGlobal("x", TypeInt, false)

	inner := s.Child()
	shadow := inner.DeclareLocal("x", TypeInt, false)

	r := run(t, s,
		set("x", num(1)),
		&Block{Scope: inner, Stmts: []Node{
			set("x", num(2)),
			printInt(ref("x")),
		}},
		printInt(ref("x")),
	)

	assert.Equal(t, "21", r.out)
	assert.NotEqual(t, "x", shadow.Label)
	assert.Equal(t, int32(1), r.global(t, "x"))
	assert.Equal(t, int32(2), r.global(t, shadow.Label))
}

func TestVoidCallHasNoValue(t *testing.T) {
	tests := []struct {
		name string
		stmt Node
	}{
		{"argument", printInt(call("nothing"))},
		{"operand", printInt(bin("+", num(1), call("nothing")))},
		{"assignment", set("x", call("nothing"))},
		{"condition", &While{Cond: call("nothing"), Body: &Block{}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := NewScope()
			s.DeclareGlobal("x", TypeInt, false)
			s.DeclareFunction("nothing", TypeVoid)

			_, err := Compile(context.Background(), &Block{Scope: s, Stmts: []Node{
				&FuncDef{Name: "nothing", Body: &Block{}},
				tc.stmt,
			}}, s)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "nothing() has no value")
		})
	}
}

func TestAddressOf(t *testing.T) {
	s := NewScope()
	s.DeclareGlobal("x", TypeInt, false)

	r := run(t, s,
		set("x", num(7)),
		printInt(&AddressOf{Var: ref("x")}),
	)

	assert.Equal(t, strconv.Itoa(r.Program.Labels["x"]), r.out)
}

func TestTopLevelReturnExits(t *testing.T) {
	r := run(t, NewScope(), &Return{Value: num(3)}, printInt(num(1)))

	assert.Equal(t, "", r.out)
	assert.Equal(t, int32(3), r.cpu.ExitCode)
	assert.True(t, r.cpu.Halted)
}

func TestAsmNode(t *testing.T) {
	r := run(t, NewScope(), &Asm{Text: "li $a0, 7\nli $v0, 1\nsyscall"})
	assert.Equal(t, "7", r.out)
}

func TestUndeclared(t *testing.T) {
	tests := []struct {
		name string
		stmt Node
		sym  string
	}{
		{"variable", printInt(ref("ghost")), "ghost"},
		{"function", call("nothing"), "nothing"},
		{"class", &New{Class: "Nope"}, "Nope"},
		{"assign target", set("missing", num(1)), "missing"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compile(context.Background(), &Block{Stmts: []Node{tc.stmt}}, NewScope())
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUndeclared), "%v", err)
			assert.Contains(t, err.Error(), tc.sym)
		})
	}
}

func TestOutOfRegisters(t *testing.T) {
	var n Node = num(0)
	for i := 0; i < NumTemps+1; i++ {
		n = bin("+", num(1), n)
	}

	_, err := Compile(context.Background(), &Block{Stmts: []Node{printInt(n)}}, NewScope())
	assert.True(t, errors.Is(err, ErrOutOfRegisters), "%v", err)
}
