package asm

import (
	"strconv"

	"tlog.app/go/errors"
)

// pseudo maps each pseudo-instruction to its operand count and expansion.
var pseudo = map[string]struct {
	arity  int
	expand func(ops []string) [][]string
}{
	"nop":  {0, func([]string) [][]string { return [][]string{{"add", "$zero", "$zero", "$zero"}} }},
	"move": {2, func(o []string) [][]string { return [][]string{{"add", o[0], o[1], "$zero"}} }},
	"la":   {2, func(o []string) [][]string { return [][]string{{"ori", o[0], "$zero", o[1]}} }},
	"b":    {1, func(o []string) [][]string { return [][]string{{"beq", "$zero", "$zero", o[0]}} }},
	"beqz": {2, func(o []string) [][]string { return [][]string{{"beq", o[0], "$zero", o[1]}} }},
	"bnez": {2, func(o []string) [][]string { return [][]string{{"bne", o[0], "$zero", o[1]}} }},
	"not":  {2, func(o []string) [][]string { return [][]string{{"nor", o[0], o[1], "$zero"}} }},
	"neg":  {2, func(o []string) [][]string { return [][]string{{"sub", o[0], "$zero", o[1]}} }},

	"seq": {3, func(o []string) [][]string {
		return [][]string{{"sub", o[0], o[1], o[2]}, {"sltiu", o[0], o[0], "1"}}
	}},
	"sne": {3, func(o []string) [][]string {
		return [][]string{{"sub", o[0], o[1], o[2]}, {"sltu", o[0], "$zero", o[0]}}
	}},
	"sgt": {3, func(o []string) [][]string { return [][]string{{"slt", o[0], o[2], o[1]}} }},
	"sle": {3, func(o []string) [][]string {
		return [][]string{{"slt", o[0], o[2], o[1]}, {"xori", o[0], o[0], "1"}}
	}},
	"sge": {3, func(o []string) [][]string {
		return [][]string{{"slt", o[0], o[1], o[2]}, {"xori", o[0], o[0], "1"}}
	}},
	"sgtf": {3, func(o []string) [][]string { return [][]string{{"sltf", o[0], o[2], o[1]}} }},
	"sgef": {3, func(o []string) [][]string { return [][]string{{"slef", o[0], o[2], o[1]}} }},
	"snef": {3, func(o []string) [][]string {
		return [][]string{{"seqf", o[0], o[1], o[2]}, {"xori", o[0], o[0], "1"}}
	}},
	"rem": {3, func(o []string) [][]string {
		return [][]string{{"div", o[1], o[2]}, {"mfhi", o[0]}}
	}},

	"blt": {3, func(o []string) [][]string {
		return [][]string{{"slt", "$at", o[0], o[1]}, {"bne", "$at", "$zero", o[2]}}
	}},
	"bgt": {3, func(o []string) [][]string {
		return [][]string{{"slt", "$at", o[1], o[0]}, {"bne", "$at", "$zero", o[2]}}
	}},
	"ble": {3, func(o []string) [][]string {
		return [][]string{{"slt", "$at", o[1], o[0]}, {"beq", "$at", "$zero", o[2]}}
	}},
	"bge": {3, func(o []string) [][]string {
		return [][]string{{"slt", "$at", o[0], o[1]}, {"beq", "$at", "$zero", o[2]}}
	}},

	"push": {1, func(o []string) [][]string {
		return [][]string{{"addi", "$sp", "$sp", "-1"}, {"sw", o[0], "0($sp)"}}
	}},
	"pop": {1, func(o []string) [][]string {
		return [][]string{{"lw", o[0], "0($sp)"}, {"addi", "$sp", "$sp", "1"}}
	}},
}

// expandPseudo returns the real instructions for p. Lines that are not
// pseudo-instructions come back unchanged.
func expandPseudo(p parsedLine) ([]parsedLine, error) {
	switch p.mnemonic {
	case "li":
		return expandLoadImmediate(p)
	case "div":
		// three-operand div leaves the quotient in rd
		if len(p.operands) == 3 {
			return derive(p, [][]string{{"div", p.operands[1], p.operands[2]}, {"mflo", p.operands[0]}}), nil
		}
	case "mul":
		// two-operand mul is the HI/LO form
		if len(p.operands) == 2 {
			return derive(p, [][]string{{"mult", p.operands[0], p.operands[1]}}), nil
		}
	}

	ps, ok := pseudo[p.mnemonic]
	if !ok {
		return []parsedLine{p}, nil
	}

	if len(p.operands) != ps.arity {
		return nil, errors.Wrap(ErrBadOperand, "%s expects %d operands on line %d, got %d", p.mnemonic, ps.arity, p.lineNo, len(p.operands))
	}

	return derive(p, ps.expand(p.operands)), nil
}

// expandLoadImmediate picks the shortest sequence that loads the value.
// Labels load as their 16-bit address.
func expandLoadImmediate(p parsedLine) ([]parsedLine, error) {
	if len(p.operands) != 2 {
		return nil, errors.Wrap(ErrBadOperand, "li expects 2 operands on line %d, got %d", p.lineNo, len(p.operands))
	}

	rd, imm := p.operands[0], p.operands[1]

	v, ok := parseLiteral(imm)
	switch {
	case !ok:
		return derive(p, [][]string{{"ori", rd, "$zero", imm}}), nil
	case v < -1<<31 || v > 1<<32-1:
		return nil, errors.Wrap(ErrBadOperand, "immediate out of range on line %d: %s", p.lineNo, imm)
	case v >= -1<<15 && v < 1<<15:
		return derive(p, [][]string{{"addi", rd, "$zero", imm}}), nil
	case v >= 0 && v < 1<<16:
		return derive(p, [][]string{{"ori", rd, "$zero", imm}}), nil
	}

	u := uint32(v)
	hi := strconv.FormatUint(uint64(u>>16), 10)
	lo := strconv.FormatUint(uint64(u&0xFFFF), 10)

	return derive(p, [][]string{{"lui", rd, hi}, {"ori", rd, rd, lo}}), nil
}

func derive(p parsedLine, seq [][]string) []parsedLine {
	out := make([]parsedLine, len(seq))
	for i, s := range seq {
		out[i] = parsedLine{
			lineNo:   p.lineNo,
			mnemonic: s[0],
			operands: s[1:],
		}
	}
	return out
}
