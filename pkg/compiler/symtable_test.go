package compiler

import (
	"errors"
	"testing"
)

func TestScopeTemps(t *testing.T) {
	s := NewScope()

	for i := 0; i < NumTemps; i++ {
		r, err := s.Acquire()
		if err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
		if want := tempReg(i); r != want {
			t.Errorf("Acquire %d = %s, want %s", i, r, want)
		}
	}

	if _, err := s.Acquire(); !errors.Is(err, ErrOutOfRegisters) {
		t.Errorf("Acquire on full pool = %v, want ErrOutOfRegisters", err)
	}

	s.Release("t3")
	s.Release("a0")
	s.Release(NoReg)

	if got := len(s.Live()); got != NumTemps-1 {
		t.Errorf("Live = %d, want %d", got, NumTemps-1)
	}

	r, err := s.Acquire()
	if err != nil || r != "t3" {
		t.Errorf("Acquire after release = %s, %v; want $t3", r, err)
	}

	child := s.Child()
	child.Release("t0")
	if got := len(s.Live()); got != NumTemps-1 {
		t.Errorf("child release not shared: Live = %d", got)
	}
}

func TestScopeLookup(t *testing.T) {
	s := NewScope()
	s.DeclareGlobal("g", TypeInt, false)

	f, body := s.DeclareFunction("f", TypeFloat, Param{Name: "x", Type: TypeInt}, Param{Name: "y", Type: TypeFloat})
	inner := body.Child()
	a := inner.DeclareLocal("a", TypeInt, false)
	b := inner.DeclareLocal("b", TypeString, false)

	t.Run("Locals", func(t *testing.T) {
		if a.Storage != StorageLocal || a.Offset != 0 || b.Offset != 1 {
			t.Errorf("locals = %+v %+v", a, b)
		}
		if body.FrameSize() != 2 {
			t.Errorf("FrameSize = %d, want 2", body.FrameSize())
		}
		if _, err := body.LookupVariable("a"); !errors.Is(err, ErrUndeclared) {
			t.Errorf("inner local visible from outer scope")
		}
	})

	t.Run("Arguments", func(t *testing.T) {
		y, err := inner.LookupVariable("y")
		if err != nil {
			t.Fatal(err)
		}
		if y.Storage != StorageArgument || y.Offset != 1 || y.Type != TypeFloat {
			t.Errorf("y = %+v", y)
		}
	})

	t.Run("Parents", func(t *testing.T) {
		g, err := inner.LookupVariable("g")
		if err != nil || g.Storage != StorageGlobal || g.Label != "g" {
			t.Errorf("g = %+v, %v", g, err)
		}
		if inner.Function() != f {
			t.Errorf("Function() = %v, want f", inner.Function())
		}
		if s.Function() != nil {
			t.Errorf("root scope has a function")
		}
	})

	t.Run("TopLevelLocalIsGlobal", func(t *testing.T) {
		v := s.Child().DeclareLocal("top", TypeInt, false)
		if v.Storage != StorageGlobal {
			t.Errorf("top storage = %v", v.Storage)
		}
		if n := len(s.Globals()); n != 2 {
			t.Errorf("Globals = %d, want 2", n)
		}
	})

	t.Run("Builtins", func(t *testing.T) {
		p, err := inner.LookupFunction("print_int")
		if err != nil {
			t.Fatal(err)
		}
		if p.Label != "__print_int" || len(p.Params) != 1 {
			t.Errorf("print_int = %+v", p)
		}
	})

	t.Run("Missing", func(t *testing.T) {
		for _, err := range []error{
			func() error { _, err := s.LookupVariable("nope"); return err }(),
			func() error { _, err := s.LookupFunction("nope"); return err }(),
			func() error { _, err := s.LookupClass("nope"); return err }(),
			func() error { _, err := s.LookupMethod("nope", "m"); return err }(),
		} {
			if !errors.Is(err, ErrUndeclared) {
				t.Errorf("got %v, want ErrUndeclared", err)
			}
		}
	})
}

func TestClassLayout(t *testing.T) {
	s := NewScope()
	c := s.DeclareClass("Shape",
		Param{Name: "w", Type: TypeInt},
		Param{Name: "h", Type: TypeInt},
		Param{Name: "label", Type: TypeString},
	)

	if c.Size != 3 {
		t.Errorf("Size = %d, want 3", c.Size)
	}

	for i, name := range []string{"w", "h", "label"} {
		p, ok := c.Property(name)
		if !ok || p.Offset != i+1 {
			t.Errorf("%s = %+v, %v; want offset %d", name, p, ok, i+1)
		}
	}

	m, body := s.DeclareMethod(c, "area", TypeInt)
	if m.Label != "Shape_area" || c.ConstructorLabel() != "Shape_new" {
		t.Errorf("labels %s %s", m.Label, c.ConstructorLabel())
	}

	h, err := body.LookupVariable("h")
	if err != nil || h.Storage != StorageMember || h.Offset != 2 {
		t.Errorf("h = %+v, %v", h, err)
	}

	if body.Child().Class() != c {
		t.Errorf("Class() lost in nested scope")
	}
}

func TestMethodParameterShadowsProperty(t *testing.T) {
	s := NewScope()
	c := s.DeclareClass("Box", Param{Name: "v", Type: TypeInt}, Param{Name: "w", Type: TypeInt})
	_, body := s.DeclareMethod(c, "put", TypeVoid, Param{Name: "v", Type: TypeFloat})

	v, err := body.LookupVariable("v")
	if err != nil || v.Storage != StorageArgument || v.Type != TypeFloat {
		t.Errorf("v = %+v, %v; want the parameter", v, err)
	}

	w, err := body.LookupVariable("w")
	if err != nil || w.Storage != StorageMember || w.Offset != 2 {
		t.Errorf("w = %+v, %v", w, err)
	}
}

func TestGlobalAndFunctionLabelsDoNotCollide(t *testing.T) {
	s := NewScope()

	labels := []string{
		s.DeclareGlobal("x", TypeInt, false).Label,
		s.Child().DeclareLocal("x", TypeInt, false).Label,
		s.Child().DeclareGlobal("x", TypeInt, false).Label,
		s.DeclareGlobal("__print_int", TypeInt, false).Label,
		s.DeclareGlobal(EntryLabel, TypeInt, false).Label,
	}

	f, _ := s.DeclareFunction("x", TypeInt)
	labels = append(labels, f.Label)

	_, body := s.DeclareFunction("outer", TypeVoid)
	g, _ := body.DeclareFunction("outer", TypeVoid)
	labels = append(labels, g.Label)

	s.DeclareGlobal("Box_new", TypeInt, false)
	labels = append(labels, s.DeclareClass("Box").ConstructorLabel())

	if labels[0] != "x" {
		t.Errorf("first x label = %s", labels[0])
	}

	seen := map[string]bool{"x": true, "__print_int": true, EntryLabel: true, "outer": true, "Box_new": true}
	for _, l := range labels[1:] {
		if seen[l] {
			t.Errorf("label %s repeated in %v", l, labels)
		}
		seen[l] = true
	}
}

func TestLabelsAreUnique(t *testing.T) {
	s := NewScope()
	seen := make(map[string]bool)

	for i := 0; i < 100; i++ {
		sc := s
		if i%2 == 1 {
			sc = s.Child()
		}

		l := sc.NewLabel("x")
		if seen[l] {
			t.Fatalf("label %s repeated", l)
		}
		seen[l] = true
	}

	if a, b := s.stringLabel("hi"), s.stringLabel("hi"); a != b {
		t.Errorf("string literal interned twice: %s %s", a, b)
	}
}
