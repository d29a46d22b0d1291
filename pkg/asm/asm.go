package asm

import (
	"context"
	"strconv"
	"strings"
	"unicode"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"mipsim/pkg/bitfield"
	"mipsim/pkg/cpu"
)

var (
	ErrUnknownMnemonic = errors.New("unknown instruction")
	ErrUndefinedLabel  = errors.New("undefined label")
	ErrDuplicateLabel  = errors.New("duplicate label")
	ErrBadOperand      = errors.New("bad operand")
	ErrBadDirective    = errors.New("bad directive")
)

// Program is the result of assembling one source text.
type Program struct {
	Image cpu.Image

	// Labels maps label names to cell addresses.
	Labels map[string]int
	// SourceMap maps cell addresses to 1-based source lines.
	SourceMap map[int]int
}

type Assembler struct {
	set    *cpu.InstructionSet
	origin int
	labels map[string]int
}

type parsedLine struct {
	lineNo   int
	labels   []string
	mnemonic string
	operands []string
	text     string // directive payload (string literal), unquoted
}

func New(set *cpu.InstructionSet) *Assembler {
	if set == nil {
		set = cpu.NewInstructionSet()
	}

	return &Assembler{
		set:    set,
		origin: cpu.ProgramBase,
		labels: make(map[string]int),
	}
}

// Assemble assembles code with a fresh instruction set.
func Assemble(ctx context.Context, code string) (*Program, error) {
	return New(nil).Assemble(ctx, code)
}

func (a *Assembler) Assemble(ctx context.Context, code string) (p *Program, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "assemble", "source_lines", strings.Count(code, "\n")+1)
	defer tr.Finish("err", &err)

	a.labels = make(map[string]int)

	lines, err := a.expand(strings.Split(code, "\n"))
	if err != nil {
		return nil, err
	}

	entry, err := a.pass1(lines)
	if err != nil {
		return nil, err
	}

	p, err = a.pass2(lines)
	if err != nil {
		return nil, err
	}

	p.Image.Entry = a.origin
	if entry != "" {
		addr, ok := a.labels[entry]
		if !ok {
			return nil, errors.Wrap(ErrUndefinedLabel, ".main %s", entry)
		}
		p.Image.Entry = addr
	} else if addr, ok := a.labels[mainLabel]; ok {
		p.Image.Entry = addr
	}

	tr.Printw("assembled", "words", len(p.Image.Words), "labels", len(p.Labels), "entry", p.Image.Entry)

	if tr.If("asm_dump") {
		tr.Printw("listing", "text", p.Listing(a.set))
	}

	return p, nil
}

// mainLabel is set by a bare .main directive.
const mainLabel = ".main"

// targetWidth bounds the addressable program: jump targets are 26 bits.
const targetWidth = 26

// expand parses every source line and replaces pseudo-instructions with
// real ones. Labels stay on the first expanded line.
func (a *Assembler) expand(raw []string) ([]parsedLine, error) {
	var out []parsedLine

	for i, text := range raw {
		p, err := parseLine(text, i+1)
		if err != nil {
			return nil, err
		}

		if p.mnemonic == "" {
			if len(p.labels) != 0 {
				out = append(out, p)
			}
			continue
		}

		exp, err := expandPseudo(p)
		if err != nil {
			return nil, err
		}

		exp[0].labels = p.labels
		out = append(out, exp...)
	}

	return out, nil
}

func (a *Assembler) pass1(lines []parsedLine) (entry string, err error) {
	address := a.origin

	for _, p := range lines {
		for _, lbl := range p.labels {
			key := normalizeLabel(lbl)
			if _, exists := a.labels[key]; exists {
				return "", errors.Wrap(ErrDuplicateLabel, "'%s' on line %d", lbl, p.lineNo)
			}
			a.labels[key] = address
		}

		switch p.mnemonic {
		case "":
		case ".main":
			switch len(p.operands) {
			case 0:
				a.labels[mainLabel] = address
			case 1:
				entry = normalizeLabel(p.operands[0])
			default:
				return "", errors.Wrap(ErrBadDirective, ".main expects at most one label on line %d", p.lineNo)
			}
		case ".asciiz":
			address += len([]rune(p.text)) + 1
		case ".ascii":
			address += len([]rune(p.text))
		case ".word":
			n, err := directiveCount(p)
			if err != nil {
				return "", err
			}
			address += n
		default:
			address++
		}
	}

	if address > int(bitfield.Mask(targetWidth)) {
		return "", errors.New("program too large: ends at %d", address)
	}

	return entry, nil
}

func (a *Assembler) pass2(lines []parsedLine) (*Program, error) {
	p := &Program{
		Image:     cpu.Image{Origin: a.origin},
		Labels:    a.labels,
		SourceMap: make(map[int]int),
	}

	emit := func(lineNo int, w uint32) {
		p.SourceMap[a.origin+len(p.Image.Words)] = lineNo
		p.Image.Words = append(p.Image.Words, w)
	}

	for _, l := range lines {
		switch l.mnemonic {
		case "", ".main":
			continue
		case ".asciiz", ".ascii":
			for _, r := range l.text {
				emit(l.lineNo, uint32(r))
			}
			if l.mnemonic == ".asciiz" {
				emit(l.lineNo, 0)
			}
			continue
		case ".word":
			n, _ := directiveCount(l)
			for i := 0; i < n; i++ {
				emit(l.lineNo, 0)
			}
			continue
		case "halt":
			if len(l.operands) != 0 {
				return nil, errors.Wrap(ErrBadOperand, "halt expects 0 operands on line %d", l.lineNo)
			}
			emit(l.lineNo, 0)
			continue
		}

		w, err := a.encode(l)
		if err != nil {
			return nil, err
		}
		emit(l.lineNo, w)
	}

	return p, nil
}

func (a *Assembler) encode(l parsedLine) (uint32, error) {
	d, ok := a.set.Lookup(l.mnemonic)
	if !ok {
		return 0, errors.Wrap(ErrUnknownMnemonic, "line %d: %s", l.lineNo, l.mnemonic)
	}

	if n := d.Operands(); len(l.operands) != n {
		return 0, errors.Wrap(ErrBadOperand, "%s expects %d operands on line %d, got %d", l.mnemonic, n, l.lineNo, len(l.operands))
	}

	values := make([]uint32, len(d.Fields))

	for i, f := range d.Fields {
		if f.Kind == cpu.KindConst {
			continue
		}

		op := l.operands[f.Column]

		var v uint32
		var err error

		switch f.Kind {
		case cpu.KindReg:
			v, err = parseRegister(op, l.lineNo)
		case cpu.KindBase:
			_, base, perr := splitOffset(op, l.lineNo)
			if perr != nil {
				return 0, perr
			}
			v, err = parseRegister(base, l.lineNo)
		case cpu.KindOffset:
			off, _, perr := splitOffset(op, l.lineNo)
			if perr != nil {
				return 0, perr
			}
			v, err = a.parseImmediate(off, f.Width, l.lineNo)
		case cpu.KindImm, cpu.KindLabel:
			v, err = a.parseImmediate(op, f.Width, l.lineNo)
		}
		if err != nil {
			return 0, err
		}

		values[i] = v
	}

	w, err := d.Pack(values)
	if err != nil {
		return 0, err
	}
	if w == 0 {
		return 0, errors.Wrap(ErrBadOperand, "line %d: %s %s encodes to the halt word", l.lineNo, l.mnemonic, strings.Join(l.operands, ", "))
	}

	return w, nil
}

// splitOffset splits "off(reg)" into its parts. A bare "(reg)" has offset 0.
func splitOffset(op string, lineNo int) (off, reg string, err error) {
	open := strings.IndexByte(op, '(')
	if open < 0 || !strings.HasSuffix(op, ")") {
		return "", "", errors.Wrap(ErrBadOperand, "expected offset(register) on line %d: %s", lineNo, op)
	}

	off = strings.TrimSpace(op[:open])
	if off == "" {
		off = "0"
	}

	return off, strings.TrimSpace(op[open+1 : len(op)-1]), nil
}

func directiveCount(p parsedLine) (int, error) {
	if len(p.operands) != 1 {
		return 0, errors.Wrap(ErrBadDirective, "%s expects exactly one operand on line %d", p.mnemonic, p.lineNo)
	}

	n, err := strconv.ParseInt(p.operands[0], 0, 32)
	if err != nil || n < 0 {
		return 0, errors.Wrap(ErrBadDirective, "invalid %s count on line %d: %s", p.mnemonic, p.lineNo, p.operands[0])
	}

	return int(n), nil
}

func parseLine(raw string, lineNo int) (parsedLine, error) {
	p := parsedLine{lineNo: lineNo}

	line := strings.TrimSpace(stripComments(raw))
	if line == "" {
		return p, nil
	}

	for {
		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			break
		}

		beforeColon := strings.TrimSpace(line[:colon])
		if strings.ContainsAny(beforeColon, " \t\"'") {
			break
		}

		if !isIdentifier(beforeColon) {
			return p, errors.Wrap(ErrBadOperand, "invalid label '%s' on line %d", beforeColon, lineNo)
		}

		p.labels = append(p.labels, beforeColon)
		line = strings.TrimSpace(line[colon+1:])
		if line == "" {
			return p, nil
		}
	}

	head := line
	rest := ""
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		head, rest = line[:i], strings.TrimSpace(line[i:])
	}

	p.mnemonic = strings.ToLower(head)

	if p.mnemonic == ".asciiz" || p.mnemonic == ".ascii" {
		s, err := strconv.Unquote(rest)
		if err != nil || !strings.HasPrefix(rest, `"`) {
			return p, errors.Wrap(ErrBadDirective, "invalid string literal on line %d", lineNo)
		}
		p.text = s
		return p, nil
	}

	p.operands = splitOperands(rest)

	return p, nil
}

// stripComments cuts the line at the first ';' or '#' outside quotes.
func stripComments(line string) string {
	var quote rune
	escaped := false

	for i, r := range line {
		switch {
		case escaped:
			escaped = false
		case quote != 0 && r == '\\':
			escaped = true
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == ';' || r == '#':
			return line[:i]
		}
	}

	return line
}

// splitOperands splits on commas and blanks outside quotes.
// A "(reg)" separated from its offset only by blanks is joined back to it.
func splitOperands(s string) []string {
	var ops []string
	var cur strings.Builder
	var quote rune
	escaped := false
	comma := true

	flush := func() {
		if cur.Len() == 0 {
			return
		}

		tok := cur.String()
		cur.Reset()

		if !comma && len(ops) != 0 && strings.HasPrefix(tok, "(") {
			ops[len(ops)-1] += tok
		} else {
			ops = append(ops, tok)
		}

		comma = false
	}

	for _, r := range s {
		switch {
		case escaped:
			escaped = false
		case quote != 0 && r == '\\':
			escaped = true
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == ',':
			flush()
			comma = true
			continue
		case unicode.IsSpace(r):
			flush()
			continue
		}

		cur.WriteRune(r)
	}

	flush()

	return ops
}

func parseRegister(token string, lineNo int) (uint32, error) {
	if !strings.HasPrefix(token, "$") {
		return 0, errors.Wrap(ErrBadOperand, "invalid register '%s' on line %d", token, lineNo)
	}

	i, ok := cpu.RegisterIndex(token)
	if !ok {
		return 0, errors.Wrap(ErrBadOperand, "invalid register '%s' on line %d", token, lineNo)
	}

	return uint32(i), nil
}

// parseImmediate accepts decimal, hex, character literals and labels.
// Literals may be given signed or unsigned; labels must fit unsigned.
func (a *Assembler) parseImmediate(token string, width uint, lineNo int) (uint32, error) {
	if v, ok := parseLiteral(token); ok {
		min, max := -int64(1)<<(width-1), int64(1)<<width-1
		if v < min || v > max {
			return 0, errors.Wrap(ErrBadOperand, "immediate out of range on line %d: %s", lineNo, token)
		}
		return uint32(v) & bitfield.Mask(width), nil
	}

	if addr, ok := a.labels[normalizeLabel(token)]; ok {
		if !bitfield.Fits(uint32(addr), width) {
			return 0, errors.Wrap(ErrBadOperand, "label '%s' address %d does not fit %d bits on line %d", token, addr, width, lineNo)
		}
		return uint32(addr), nil
	}

	if isIdentifier(token) {
		return 0, errors.Wrap(ErrUndefinedLabel, "'%s' on line %d", token, lineNo)
	}

	return 0, errors.Wrap(ErrBadOperand, "invalid immediate '%s' on line %d", token, lineNo)
}

func parseLiteral(token string) (int64, bool) {
	if len(token) >= 3 && token[0] == '\'' && token[len(token)-1] == '\'' {
		r, _, tail, err := strconv.UnquoteChar(token[1:len(token)-1], '\'')
		if err != nil || tail != "" {
			return 0, false
		}
		return int64(r), true
	}

	v, err := strconv.ParseInt(token, 0, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}

	for i, r := range s {
		if i == 0 {
			if !unicode.IsLetter(r) && r != '_' && r != '.' {
				return false
			}
			continue
		}

		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '.' {
			return false
		}
	}

	return true
}

func normalizeLabel(label string) string {
	return strings.TrimSpace(label)
}
