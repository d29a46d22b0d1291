package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/logrusorgru/aurora"
	"github.com/spf13/cobra"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"mipsim/pkg/asm"
	"mipsim/pkg/config"
	"mipsim/pkg/cpu"
	"mipsim/pkg/demo"
	"mipsim/pkg/grid"
	"mipsim/pkg/peripherals"
)

const (
	charWidth  = 8
	charHeight = 16

	stepsPerFrame = 10000
)

type Game struct {
	vm      *cpu.CPU
	display *peripherals.Display
	kb      *peripherals.Keyboard

	err error
}

// feed queues host keys for the program.
func (g *Game) feed(keys []rune) {
	for _, r := range keys {
		g.kb.Push(r)
	}
}

// step runs one frame worth of instructions.
func (g *Game) step() error {
	if g.vm.Halted || g.err != nil {
		return nil
	}

	g.err = g.vm.RunSteps(stepsPerFrame)
	if g.err != nil {
		tlog.Printw("machine stopped", "err", g.err, "pc", g.vm.PC())
	}

	return nil
}

func (g *Game) Update() error {
	g.feed(ebiten.AppendInputChars(nil))
	if inpututil.IsKeyJustPressed(ebiten.KeyEnter) {
		g.feed([]rune{'\n'})
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyBackspace) {
		g.feed([]rune{'\b'})
	}

	return g.step()
}

func (g *Game) Draw(screen *ebiten.Image) {
	front := g.display.Front()

	for i, ch := range front {
		if ch <= ' ' {
			continue
		}
		x, y := grid.GetGridCoords(i, g.display.Cols())
		ebitenutil.DebugPrintAt(screen, string(rune(ch)), x*charWidth, y*charHeight)
	}

	if g.err != nil {
		ebitenutil.DebugPrintAt(screen, g.err.Error(), 0, g.display.Rows()*charHeight)
	}
}

func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	return g.display.Cols() * charWidth, (g.display.Rows() + 1) * charHeight
}

// newGame builds the machine from m, making sure a keyboard and a display
// are mounted, and loads the program chosen by target.
func newGame(ctx context.Context, m config.Machine, target string) (*Game, error) {
	if !hasKind(m, peripherals.KeyboardType) {
		m.Peripherals = append(m.Peripherals, config.Peripheral{Kind: peripherals.KeyboardType})
	}
	if !hasKind(m, peripherals.DisplayType) {
		m.Peripherals = append(m.Peripherals, config.Peripheral{Kind: peripherals.DisplayType})
	}

	vm, err := m.Build(os.Stdin, os.Stdout)
	if err != nil {
		return nil, err
	}

	g := &Game{vm: vm}
	for _, p := range vm.Peripherals() {
		switch p := p.(type) {
		case *peripherals.Display:
			if g.display == nil {
				g.display = p
			}
		case *peripherals.Keyboard:
			if g.kb == nil {
				g.kb = p
			}
		}
	}

	im, err := program(ctx, g, target)
	if err != nil {
		return nil, err
	}

	if err := vm.Load(im); err != nil {
		return nil, err
	}

	return g, nil
}

func hasKind(m config.Machine, kind string) bool {
	for _, p := range m.Peripherals {
		if p.Kind == kind {
			return true
		}
	}
	return false
}

// program resolves target: empty runs the echo demo, a demo name compiles
// that demo, anything else is an assembly source file.
func program(ctx context.Context, g *Game, target string) (cpu.Image, error) {
	if target == "" {
		p, err := asm.Assemble(ctx, demo.Echo(g.kb, g.display))
		if err != nil {
			return cpu.Image{}, err
		}
		return p.Image, nil
	}

	if d, err := demo.Lookup(target); err == nil {
		out, err := d.Compile(ctx)
		if err != nil {
			return cpu.Image{}, err
		}
		return out.Program.Image, nil
	}

	src, err := os.ReadFile(target)
	if err != nil {
		return cpu.Image{}, errors.Wrap(err, "read program")
	}

	p, err := asm.Assemble(ctx, string(src))
	if err != nil {
		return cpu.Image{}, errors.Wrap(err, "%v", filepath.Base(target))
	}

	return p.Image, nil
}

func main() {
	var cfgPath, verbose string

	cmd := &cobra.Command{
		Use:   "desktop [program.s | demo]",
		Short: "Run a program with the display and keyboard in a window",
		Args:  cobra.RangeArgs(0, 1),

		SilenceUsage:  true,
		SilenceErrors: true,

		RunE: func(cmd *cobra.Command, args []string) error {
			m := config.Default()
			if cfgPath != "" {
				var err error
				if m, err = config.Load(cfgPath); err != nil {
					return err
				}
			}

			tlog.SetVerbosity(m.Verbosity())
			if verbose != "" {
				tlog.SetVerbosity(verbose)
			}

			target := ""
			if len(args) == 1 {
				target = args[0]
			}

			g, err := newGame(cmd.Context(), m, target)
			if err != nil {
				return err
			}

			w, h := g.Layout(0, 0)
			ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
			ebiten.SetWindowSize(2*w, 2*h)
			ebiten.SetWindowTitle("mipsim")

			return ebiten.RunGame(g)
		},
	}

	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "machine config file (YAML)")
	cmd.Flags().StringVarP(&verbose, "verbose", "v", "", "tlog verbosity topics")

	ctx := tlog.ContextWithSpan(context.Background(), tlog.Root())

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, aurora.Red("error:"), err)
		os.Exit(1)
	}
}
