package compiler

import (
	"fmt"
	"strings"

	"tlog.app/go/errors"
)

// Node is implemented by every tree node. Gen appends code and returns the
// register holding the result, or NoReg for statements.
type Node interface {
	Gen(g *Generator, s *Scope) (Reg, error)
	Type(s *Scope) (string, error)
	Children() []Node
}

//  Expression nodes

// IntLit is an integer constant.
//
//	a = 10
//	    ^^  IntLit{Value: 10}
type IntLit struct {
	Value int32
}

func (*IntLit) Type(*Scope) (string, error) { return TypeInt, nil }
func (*IntLit) Children() []Node            { return nil }
func (n *IntLit) String() string            { return fmt.Sprintf("%d", n.Value) }

// FloatLit is stored as its IEEE-754 single precision bits.
type FloatLit struct {
	Value float32
}

func (*FloatLit) Type(*Scope) (string, error) { return TypeFloat, nil }
func (*FloatLit) Children() []Node            { return nil }
func (n *FloatLit) String() string            { return fmt.Sprintf("%g", n.Value) }

// StringLit evaluates to the address of a NUL-terminated run of cells in
// the data section.
type StringLit struct {
	Value string
}

func (*StringLit) Type(*Scope) (string, error) { return TypeString, nil }
func (*StringLit) Children() []Node            { return nil }
func (n *StringLit) String() string            { return fmt.Sprintf("%q", n.Value) }

// VarRef reads a variable, optionally one element of it and optionally
// one property of the instance it points to.
//
//	shapes[i].width
//	^^^^^^ ^  ^^^^^
//	|      |  Property
//	|      Index
//	Name
type VarRef struct {
	Name     string
	Index    Node
	Property string
}

func (n *VarRef) Type(s *Scope) (string, error) {
	v, err := s.LookupVariable(n.Name)
	if err != nil {
		return "", err
	}

	typ := v.Type

	switch {
	case n.Index != nil && !v.IsArray && v.Type == TypeString:
		typ = TypeInt
	case n.Index == nil && v.IsArray:
		typ += "[]"
	}

	if n.Property == "" {
		return typ, nil
	}

	c, err := s.LookupClass(typ)
	if err != nil {
		return "", err
	}

	p, ok := c.Property(n.Property)
	if !ok {
		return "", errors.Wrap(ErrUndeclared, "property %s.%s", typ, n.Property)
	}

	return p.Type, nil
}

func (n *VarRef) Children() []Node {
	if n.Index != nil {
		return []Node{n.Index}
	}
	return nil
}

func (n *VarRef) String() string {
	var b strings.Builder
	b.WriteString(n.Name)
	if n.Index != nil {
		fmt.Fprintf(&b, "[%v]", n.Index)
	}
	if n.Property != "" {
		b.WriteString("." + n.Property)
	}
	return b.String()
}

// AddressOf evaluates to the cell address of Var instead of its value.
type AddressOf struct {
	Var *VarRef
}

func (*AddressOf) Type(*Scope) (string, error) { return TypeInt, nil }
func (n *AddressOf) Children() []Node          { return []Node{n.Var} }

// Assign stores Value into Target and evaluates to the stored value.
type Assign struct {
	Target *VarRef
	Value  Node
}

func (n *Assign) Type(s *Scope) (string, error) { return n.Target.Type(s) }
func (n *Assign) Children() []Node              { return []Node{n.Target, n.Value} }

// BinaryOp applies Op to Left and Right. SelfAssign stores the result back
// into Left, which must then be a *VarRef:
//
//	a += 1   BinaryOp{Op: "+", Left: &VarRef{Name: "a"}, Right: &IntLit{1}, SelfAssign: true}
//
// Declared overrides the inferred result type.
type BinaryOp struct {
	Op         string
	Left       Node
	Right      Node
	SelfAssign bool
	Declared   string
}

func (n *BinaryOp) Type(s *Scope) (string, error) {
	if n.Declared != "" {
		return n.Declared, nil
	}

	lt, err := n.Left.Type(s)
	if err != nil {
		return "", err
	}

	if n.SelfAssign {
		return lt, nil
	}

	rt, err := n.Right.Type(s)
	if err != nil {
		return "", err
	}

	if _, ok := arithmeticOps[n.Op]; ok && (lt == TypeFloat || rt == TypeFloat) {
		return TypeFloat, nil
	}

	return TypeInt, nil
}

func (n *BinaryOp) Children() []Node { return []Node{n.Left, n.Right} }

func (n *BinaryOp) String() string {
	op := n.Op
	if n.SelfAssign {
		op += "="
	}
	return fmt.Sprintf("(%v %s %v)", n.Left, op, n.Right)
}

// Call invokes a function, or a method when Receiver is set. Inside a
// method a bare Name also resolves against the current class.
type Call struct {
	Name     string
	Args     []Node
	Receiver Node
}

func (n *Call) Type(s *Scope) (string, error) {
	f, err := n.resolve(s)
	if err != nil {
		return "", err
	}
	return f.ReturnType, nil
}

func (n *Call) String() string {
	args := make([]string, len(n.Args))
	for i, a := range n.Args {
		args[i] = fmt.Sprint(a)
	}

	name := n.Name
	if n.Receiver != nil {
		name = fmt.Sprintf("%v.%s", n.Receiver, n.Name)
	}

	return fmt.Sprintf("%s(%s)", name, strings.Join(args, ", "))
}

func (n *Call) Children() []Node {
	out := append([]Node(nil), n.Args...)
	if n.Receiver != nil {
		out = append(out, n.Receiver)
	}
	return out
}

// New allocates an instance of Class and initializes the named properties.
type New struct {
	Class string
	Init  []PropInit
}

type PropInit struct {
	Name  string
	Value Node
}

func (n *New) Type(s *Scope) (string, error) {
	if _, err := s.LookupClass(n.Class); err != nil {
		return "", err
	}
	return n.Class, nil
}

func (n *New) Children() []Node {
	out := make([]Node, len(n.Init))
	for i, in := range n.Init {
		out[i] = in.Value
	}
	return out
}

//  Statement nodes

// Block runs Stmts in order inside Scope, or in the enclosing scope when
// Scope is nil.
type Block struct {
	Scope *Scope
	Stmts []Node
}

func (*Block) Type(*Scope) (string, error) { return TypeVoid, nil }
func (n *Block) Children() []Node          { return n.Stmts }

// If runs the body of the first branch whose condition is non-zero, or
// Else.
//
//	if (a) {..} else if (b) {..} else {..}
//	If{Branches: []Branch{{a, ..}, {b, ..}}, Else: ..}
type If struct {
	Branches []Branch
	Else     Node
}

type Branch struct {
	Cond Node
	Body Node
}

func (*If) Type(*Scope) (string, error) { return TypeVoid, nil }

func (n *If) Children() []Node {
	var out []Node
	for _, b := range n.Branches {
		out = append(out, b.Cond, b.Body)
	}
	if n.Else != nil {
		out = append(out, n.Else)
	}
	return out
}

type While struct {
	Cond Node
	Body Node
}

func (*While) Type(*Scope) (string, error) { return TypeVoid, nil }
func (n *While) Children() []Node          { return []Node{n.Cond, n.Body} }

// FuncDef emits a function declared with Scope.DeclareFunction, or a
// method when Class is set. Body.Scope defaults to the declared body scope.
type FuncDef struct {
	Name  string
	Class string
	Body  *Block
}

func (*FuncDef) Type(*Scope) (string, error) { return TypeVoid, nil }
func (n *FuncDef) Children() []Node          { return []Node{n.Body} }

// ClassDef emits the constructor and the methods of a declared class.
type ClassDef struct {
	Name    string
	Methods []*FuncDef
}

func (*ClassDef) Type(*Scope) (string, error) { return TypeVoid, nil }

func (n *ClassDef) Children() []Node {
	out := make([]Node, len(n.Methods))
	for i, m := range n.Methods {
		out[i] = m
	}
	return out
}

// Return leaves the enclosing function. At top level it exits the program
// with Value as the exit code.
type Return struct {
	Value Node
}

func (*Return) Type(*Scope) (string, error) { return TypeVoid, nil }

func (n *Return) Children() []Node {
	if n.Value != nil {
		return []Node{n.Value}
	}
	return nil
}

// Asm is raw assembly, one instruction per line.
type Asm struct {
	Text string
}

func (*Asm) Type(*Scope) (string, error) { return TypeVoid, nil }
func (*Asm) Children() []Node            { return nil }

// Walk visits n and its subtree depth-first.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range n.Children() {
		Walk(c, fn)
	}
}
