package compiler

import (
	"fmt"
	"sort"

	"tlog.app/go/errors"
)

var (
	ErrUndeclared     = errors.New("undeclared")
	ErrOutOfRegisters = errors.New("out of temp registers")
)

// Built-in type names. A declared class name is also a type.
const (
	TypeInt    = "int"
	TypeFloat  = "float"
	TypeString = "string"
	TypeVoid   = "void"
)

// NumTemps is the size of the temp register pool ($t0..$t7).
const NumTemps = 8

// MaxArgs is the number of argument registers ($a0..$a3).
const MaxArgs = 4

type Storage int

const (
	StorageGlobal Storage = iota
	StorageLocal
	StorageArgument
	StorageMember
)

func (s Storage) String() string {
	switch s {
	case StorageGlobal:
		return "global"
	case StorageLocal:
		return "local"
	case StorageArgument:
		return "argument"
	case StorageMember:
		return "member"
	default:
		return fmt.Sprintf("Storage(%d)", int(s))
	}
}

// Variable is one named cell.
//
// Offset is the frame offset for locals, the argument position for
// arguments and the property offset for members. Label names the cell of
// a global.
type Variable struct {
	Name    string
	Type    string
	Storage Storage
	IsArray bool
	Offset  int
	Label   string
}

type Param struct {
	Name string
	Type string
}

type Function struct {
	Name       string
	ReturnType string
	Params     []Param
	Label      string

	// Class is set for methods.
	Class *Class

	builtin *builtin
	body    *Scope
	ret     string
}

type Property struct {
	Name   string
	Type   string
	Offset int
}

// Class describes a heap object. Offset 0 of every instance is the size
// header written by the allocator, so properties start at 1. Size counts
// the property cells only.
type Class struct {
	Name       string
	Properties []Property
	Size       int
	Methods    map[string]*Function

	ctor string
}

func (c *Class) Property(name string) (Property, bool) {
	for _, p := range c.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// ConstructorLabel is the entry point that allocates an instance.
func (c *Class) ConstructorLabel() string {
	if c.ctor != "" {
		return c.ctor
	}
	return c.Name + "_new"
}

// unit is the state shared by every scope of one compilation.
type unit struct {
	temps   [NumTemps]bool
	depth   int
	labels  int
	globals []*Variable
	strings map[string]string
	strList []string
	used    map[string]bool

	// names holds every label taken by a global or a function.
	names map[string]bool
}

// Scope is a symbol table that links to its parent for lookups. The temp
// pool, the stack depth and the label counter belong to the compilation
// unit and are shared by all nested scopes.
type Scope struct {
	parent *Scope
	u      *unit

	vars    map[string]*Variable
	funcs   map[string]*Function
	classes map[string]*Class

	// fn is set on a function body scope; class on a method body scope.
	fn    *Function
	class *Class
	frame *int
}

// NewScope returns a root scope with the builtin functions declared.
func NewScope() *Scope {
	s := &Scope{
		u: &unit{
			strings: make(map[string]string),
			used:    make(map[string]bool),
			names:   map[string]bool{EntryLabel: true},
		},
	}
	s.init()

	for _, b := range builtins {
		params := make([]Param, len(b.params))
		for i, t := range b.params {
			params[i] = Param{Name: fmt.Sprintf("arg%d", i), Type: t}
		}

		s.funcs[b.name] = &Function{
			Name:       b.name,
			ReturnType: b.ret,
			Params:     params,
			Label:      s.claim(builtinLabel(b.name)),
			builtin:    b,
		}
	}

	return s
}

func (s *Scope) init() {
	s.vars = make(map[string]*Variable)
	s.funcs = make(map[string]*Function)
	s.classes = make(map[string]*Class)
}

// Child returns a nested block scope.
func (s *Scope) Child() *Scope {
	c := &Scope{parent: s, u: s.u, frame: s.frame}
	c.init()
	return c
}

// Function returns the innermost enclosing function, or nil at top level.
func (s *Scope) Function() *Function {
	for ; s != nil; s = s.parent {
		if s.fn != nil {
			return s.fn
		}
	}
	return nil
}

// Class returns the class whose method body encloses s, or nil.
func (s *Scope) Class() *Class {
	for ; s != nil; s = s.parent {
		if s.class != nil {
			return s.class
		}
	}
	return nil
}

// FrameSize is the number of local cells of the enclosing function.
func (s *Scope) FrameSize() int {
	if s.frame == nil {
		return 0
	}
	return *s.frame
}

// DeclareGlobal adds a labelled cell to the data section.
func (s *Scope) DeclareGlobal(name, typ string, isArray bool) *Variable {
	v := &Variable{Name: name, Type: typ, Storage: StorageGlobal, IsArray: isArray, Label: s.claim(name)}
	s.vars[name] = v
	s.u.globals = append(s.u.globals, v)
	return v
}

// DeclareLocal adds a stack cell to the enclosing function frame.
// Outside of a function the variable becomes a global.
func (s *Scope) DeclareLocal(name, typ string, isArray bool) *Variable {
	if s.frame == nil {
		return s.DeclareGlobal(name, typ, isArray)
	}

	v := &Variable{Name: name, Type: typ, Storage: StorageLocal, IsArray: isArray, Offset: *s.frame}
	*s.frame++
	s.vars[name] = v
	return v
}

// DeclareFunction registers a function and returns the scope for its body
// with the parameters bound to the argument registers.
func (s *Scope) DeclareFunction(name, ret string, params ...Param) (*Function, *Scope) {
	f := &Function{Name: name, ReturnType: ret, Params: params, Label: s.claim(name)}
	s.funcs[name] = f
	return f, s.functionScope(f)
}

// DeclareClass registers a class with its properties laid out after the
// size header.
func (s *Scope) DeclareClass(name string, props ...Param) *Class {
	c := &Class{Name: name, Methods: make(map[string]*Function)}
	c.ctor = s.claim(c.ConstructorLabel())
	for i, p := range props {
		c.Properties = append(c.Properties, Property{Name: p.Name, Type: p.Type, Offset: i + 1})
	}
	c.Size = len(props)

	s.classes[name] = c
	return c
}

// DeclareMethod registers a method of c. Inside the returned body scope the
// class properties resolve against the instance register unless a
// parameter has the same name.
func (s *Scope) DeclareMethod(c *Class, name, ret string, params ...Param) (*Function, *Scope) {
	f := &Function{Name: name, ReturnType: ret, Params: params, Label: s.claim(c.Name + "_" + name), Class: c}
	c.Methods[name] = f

	body := s.functionScope(f)
	body.class = c
	for _, p := range c.Properties {
		if _, ok := body.vars[p.Name]; ok {
			continue
		}
		body.vars[p.Name] = &Variable{Name: p.Name, Type: p.Type, Storage: StorageMember, Offset: p.Offset}
	}

	return f, body
}

func (s *Scope) functionScope(f *Function) *Scope {
	body := s.Child()
	body.fn = f
	body.frame = new(int)

	for i, p := range f.Params {
		body.vars[p.Name] = &Variable{Name: p.Name, Type: p.Type, Storage: StorageArgument, Offset: i}
	}

	f.body = body
	return body
}

func (s *Scope) LookupVariable(name string) (*Variable, error) {
	for sc := s; sc != nil; sc = sc.parent {
		if v, ok := sc.vars[name]; ok {
			return v, nil
		}
	}
	return nil, errors.Wrap(ErrUndeclared, "variable %q", name)
}

func (s *Scope) LookupFunction(name string) (*Function, error) {
	for sc := s; sc != nil; sc = sc.parent {
		if f, ok := sc.funcs[name]; ok {
			return f, nil
		}
	}
	return nil, errors.Wrap(ErrUndeclared, "function %q", name)
}

func (s *Scope) LookupClass(name string) (*Class, error) {
	for sc := s; sc != nil; sc = sc.parent {
		if c, ok := sc.classes[name]; ok {
			return c, nil
		}
	}
	return nil, errors.Wrap(ErrUndeclared, "class %q", name)
}

// LookupMethod resolves name on the class named by typ.
func (s *Scope) LookupMethod(typ, name string) (*Function, error) {
	c, err := s.LookupClass(typ)
	if err != nil {
		return nil, err
	}

	f, ok := c.Methods[name]
	if !ok {
		return nil, errors.Wrap(ErrUndeclared, "method %s.%s", typ, name)
	}

	return f, nil
}

// Acquire takes the lowest free temp register.
func (s *Scope) Acquire() (Reg, error) {
	for i, used := range s.u.temps {
		if !used {
			s.u.temps[i] = true
			return tempReg(i), nil
		}
	}
	return NoReg, ErrOutOfRegisters
}

// Release returns r to the pool. Non-temp registers are ignored.
func (s *Scope) Release(r Reg) {
	if i, ok := r.tempIndex(); ok {
		s.u.temps[i] = false
	}
}

// Live lists the temps in use, lowest first.
func (s *Scope) Live() []Reg {
	var out []Reg
	for i, used := range s.u.temps {
		if used {
			out = append(out, tempReg(i))
		}
	}
	return out
}

// Depth is the number of cells pushed since the current frame was set up.
func (s *Scope) Depth() int { return s.u.depth }

func (s *Scope) push(n int) { s.u.depth += n }
func (s *Scope) pop(n int)  { s.u.depth -= n }

// NewLabel returns a fresh label from the unit counter.
func (s *Scope) NewLabel(kind string) string {
	l := fmt.Sprintf(".L%s%d", kind, s.u.labels)
	s.u.labels++
	return l
}

// claim reserves name as a label. A name already taken, by a shadowed
// global or a nested function, gets a fresh local label instead.
func (s *Scope) claim(name string) string {
	if s.u.names[name] {
		name = s.NewLabel(name)
	}
	s.u.names[name] = true
	return name
}

// stringLabel interns a string literal into the data section.
func (s *Scope) stringLabel(v string) string {
	if l, ok := s.u.strings[v]; ok {
		return l
	}

	l := fmt.Sprintf(".Lstr%d", len(s.u.strList))
	s.u.strings[v] = l
	s.u.strList = append(s.u.strList, v)
	return l
}

func (s *Scope) useBuiltin(name string) { s.u.used[name] = true }

// Globals returns every global in declaration order.
func (s *Scope) Globals() []*Variable { return s.u.globals }

// Classes returns the classes declared directly in s, sorted by name.
func (s *Scope) Classes() []*Class {
	out := make([]*Class, 0, len(s.classes))
	for _, c := range s.classes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
