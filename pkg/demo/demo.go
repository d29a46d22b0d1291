// Package demo holds ready-made program trees for the CLI and the desktop
// front end.
package demo

import (
	"context"
	"sort"

	"tlog.app/go/errors"

	c "mipsim/pkg/compiler"
)

var ErrUnknown = errors.New("unknown demo")

type Program struct {
	Name  string
	Short string

	// Output is what the program prints on the console when run to the end.
	Output string

	build func() (c.Node, *c.Scope)
}

// Tree builds a fresh tree and the scope it was declared in.
func (p Program) Tree() (c.Node, *c.Scope) {
	return p.build()
}

func (p Program) Compile(ctx context.Context) (*c.Output, error) {
	root, s := p.build()
	return c.Compile(ctx, root, s)
}

var programs = map[string]Program{}

func register(p Program) {
	programs[p.Name] = p
}

func Lookup(name string) (Program, error) {
	p, ok := programs[name]
	if !ok {
		return Program{}, errors.Wrap(ErrUnknown, "%q", name)
	}
	return p, nil
}

func Names() []string {
	out := make([]string, 0, len(programs))
	for n := range programs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func num(v int32) *c.IntLit                 { return &c.IntLit{Value: v} }
func flt(v float32) *c.FloatLit             { return &c.FloatLit{Value: v} }
func str(v string) *c.StringLit             { return &c.StringLit{Value: v} }
func ref(name string) *c.VarRef             { return &c.VarRef{Name: name} }
func bin(op string, l, r c.Node) *c.BinaryOp { return &c.BinaryOp{Op: op, Left: l, Right: r} }
func set(name string, v c.Node) *c.Assign   { return &c.Assign{Target: ref(name), Value: v} }
func call(name string, args ...c.Node) *c.Call {
	return &c.Call{Name: name, Args: args}
}

func inc(name string, by c.Node) *c.BinaryOp {
	return &c.BinaryOp{Op: "+", Left: ref(name), Right: by, SelfAssign: true}
}

func block(s *c.Scope, stmts ...c.Node) *c.Block {
	return &c.Block{Scope: s, Stmts: stmts}
}

func init() {
	register(Program{
		Name:   "loop",
		Short:  "sum the numbers 1 to 10 in a while loop",
		Output: "sum=55\n",
		build: func() (c.Node, *c.Scope) {
			s := c.NewScope()
			s.DeclareGlobal("i", c.TypeInt, false)
			s.DeclareGlobal("sum", c.TypeInt, false)

			return block(s,
				set("i", num(0)),
				set("sum", num(0)),
				&c.While{
					Cond: bin("<", ref("i"), num(10)),
					Body: block(s,
						inc("i", num(1)),
						inc("sum", ref("i")),
					),
				},
				call("print_string", str("sum=")),
				call("print_int", ref("sum")),
				call("print_char", num('\n')),
			), s
		},
	})

	register(Program{
		Name:   "class",
		Short:  "instantiate a class and call its methods",
		Output: "rex is 3\nrex is 4\n",
		build: func() (c.Node, *c.Scope) {
			s := c.NewScope()
			dog := s.DeclareClass("Dog",
				c.Param{Name: "name", Type: c.TypeString},
				c.Param{Name: "age", Type: c.TypeInt},
			)
			s.DeclareMethod(dog, "show", c.TypeVoid)
			s.DeclareMethod(dog, "birthday", c.TypeInt)
			s.DeclareGlobal("d", "Dog", false)

			return block(s,
				&c.ClassDef{Name: "Dog", Methods: []*c.FuncDef{
					{Name: "show", Body: &c.Block{Stmts: []c.Node{
						call("print_string", ref("name")),
						call("print_string", str(" is ")),
						call("print_int", ref("age")),
						call("print_char", num('\n')),
					}}},
					{Name: "birthday", Body: &c.Block{Stmts: []c.Node{
						inc("age", num(1)),
						call("show"),
						&c.Return{Value: ref("age")},
					}}},
				}},
				set("d", &c.New{Class: "Dog", Init: []c.PropInit{
					{Name: "name", Value: str("rex")},
					{Name: "age", Value: num(3)},
				}}),
				&c.Call{Name: "show", Receiver: ref("d")},
				&c.Call{Name: "birthday", Receiver: ref("d")},
			), s
		},
	})

	register(Program{
		Name:   "floats",
		Short:  "mix int and float operands",
		Output: "area=12.5 whole=12\n",
		build: func() (c.Node, *c.Scope) {
			s := c.NewScope()
			s.DeclareGlobal("w", c.TypeInt, false)
			s.DeclareGlobal("h", c.TypeFloat, false)
			s.DeclareGlobal("area", c.TypeFloat, false)

			return block(s,
				set("w", num(5)),
				set("h", flt(2.5)),
				set("area", bin("*", ref("w"), ref("h"))),
				call("print_string", str("area=")),
				call("print_float", ref("area")),
				call("print_string", str(" whole=")),
				call("print_int", ref("area")),
				call("print_char", num('\n')),
			), s
		},
	})

	register(Program{
		Name:   "logic",
		Short:  "normalize logical operators to 0 and 1",
		Output: "111111 0\n",
		build: func() (c.Node, *c.Scope) {
			s := c.NewScope()

			var stmts []c.Node
			for _, e := range []c.Node{
				bin("||", num(1), num(1)),
				bin("||", num(0), num(65)),
				bin("||", num(-65), num(0)),
				bin("&&", num(1), num(1)),
				bin("&&", num(65), num(-1)),
				bin("&&", num(1), num(65)),
			} {
				stmts = append(stmts, call("print_int", e))
			}

			stmts = append(stmts,
				call("print_char", num(' ')),
				call("print_int", bin("&&", num(7), num(0))),
				call("print_char", num('\n')),
			)

			return block(s, stmts...), s
		},
	})

	register(Program{
		Name:   "calls",
		Short:  "recursive and nested function calls",
		Output: "720 55\n",
		build: func() (c.Node, *c.Scope) {
			s := c.NewScope()
			s.DeclareFunction("fact", c.TypeInt, c.Param{Name: "n", Type: c.TypeInt})
			s.DeclareFunction("fib", c.TypeInt, c.Param{Name: "n", Type: c.TypeInt})

			return block(s,
				&c.FuncDef{Name: "fact", Body: &c.Block{Stmts: []c.Node{
					&c.If{Branches: []c.Branch{{
						Cond: bin("<=", ref("n"), num(1)),
						Body: &c.Return{Value: num(1)},
					}}},
					&c.Return{Value: bin("*", ref("n"), call("fact", bin("-", ref("n"), num(1))))},
				}}},
				&c.FuncDef{Name: "fib", Body: &c.Block{Stmts: []c.Node{
					&c.If{Branches: []c.Branch{{
						Cond: bin("<", ref("n"), num(2)),
						Body: &c.Return{Value: ref("n")},
					}}},
					&c.Return{Value: bin("+",
						call("fib", bin("-", ref("n"), num(1))),
						call("fib", bin("-", ref("n"), num(2))),
					)},
				}}},
				call("print_int", call("fact", num(6))),
				call("print_char", num(' ')),
				call("print_int", call("fib", num(10))),
				call("print_char", num('\n')),
			), s
		},
	})
}
