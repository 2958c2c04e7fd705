package ir

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ParseAssembly reads the textual form of a function, one instruction per
// line:
//
//	func @name(%a:i8, %q:ptr)
//	entry:
//	  %p = alloca
//	  %v = load i32 %p
//	  %r = icmp slt %v, #0:i32
//	  br.cond %r, then, else
//
// Operands are %name references, #value:iN constants, @sym globals, or
// undef:iN. The format exists for tests and the debug CLI; real input comes
// from the lifter as in-memory IR.
func ParseAssembly(r io.Reader) (*Function, error) {
	p := &parser{
		named: make(map[string]Value),
	}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		if err := p.line(line); err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNo)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading assembly")
	}
	if p.fn == nil {
		return nil, errors.New("no func header found")
	}
	if err := p.resolve(); err != nil {
		return nil, err
	}
	return p.fn, nil
}

type parser struct {
	fn    *Function
	block *Block
	named map[string]Value
	// operand resolution is deferred so phis can refer forward
	pending []pendingOperands
}

type pendingOperands struct {
	instr  *Instr
	tokens []string
}

func (p *parser) line(line string) error {
	if strings.HasPrefix(line, "func ") {
		return p.header(line)
	}
	if p.fn == nil {
		return errors.New("instruction before func header")
	}
	if strings.HasSuffix(line, ":") && !strings.Contains(line, "=") {
		p.block = p.fn.NewBlock(strings.TrimSuffix(line, ":"))
		return nil
	}
	if p.block == nil {
		p.block = p.fn.NewBlock("entry")
	}
	return p.instruction(line)
}

func (p *parser) header(line string) error {
	rest := strings.TrimPrefix(line, "func ")
	open := strings.IndexByte(rest, '(')
	closing := strings.LastIndexByte(rest, ')')
	if !strings.HasPrefix(rest, "@") || open < 0 || closing < open {
		return errors.Errorf("malformed func header %q", line)
	}
	p.fn = &Function{Ident: rest[1:open]}
	params := strings.TrimSpace(rest[open+1 : closing])
	if params == "" {
		return nil
	}
	for _, field := range strings.Split(params, ",") {
		field = strings.TrimSpace(field)
		name, width, ok := strings.Cut(field, ":")
		if !ok || !strings.HasPrefix(name, "%") {
			return errors.Errorf("malformed parameter %q", field)
		}
		bits, err := parseWidth(width)
		if err != nil {
			return err
		}
		param := &Param{Ident: name[1:], Bits: bits}
		p.fn.Params = append(p.fn.Params, param)
		p.named[param.Ident] = param
	}
	return nil
}

func parseWidth(tok string) (int, error) {
	if tok == "ptr" {
		return 0, nil
	}
	if !strings.HasPrefix(tok, "i") {
		return 0, errors.Errorf("malformed width %q", tok)
	}
	bits, err := strconv.Atoi(tok[1:])
	if err != nil {
		return 0, errors.Wrapf(err, "malformed width %q", tok)
	}
	return bits, nil
}

var opcodeByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeNames))
	for op, name := range opcodeNames {
		m[name] = op
	}
	return m
}()

var predicateByName = func() map[string]Predicate {
	m := make(map[string]Predicate, len(predicateNames))
	for pred, name := range predicateNames {
		m[name] = pred
	}
	return m
}()

func (p *parser) instruction(line string) error {
	inst := &Instr{}
	rest := line
	if strings.HasPrefix(line, "%") {
		ident, body, ok := strings.Cut(line, "=")
		if !ok {
			return errors.Errorf("malformed instruction %q", line)
		}
		inst.Ident = strings.TrimSpace(strings.TrimPrefix(ident, "%"))
		rest = strings.TrimSpace(body)
	}
	fields := strings.Fields(strings.ReplaceAll(rest, ",", " "))
	if len(fields) == 0 {
		return errors.Errorf("empty instruction %q", line)
	}
	op, ok := opcodeByName[fields[0]]
	if !ok {
		return errors.Errorf("unknown opcode %q", fields[0])
	}
	inst.Op = op
	fields = fields[1:]

	if op == OpICmp {
		if len(fields) == 0 {
			return errors.Errorf("icmp needs a predicate in %q", line)
		}
		pred, ok := predicateByName[fields[0]]
		if !ok {
			return errors.Errorf("unknown predicate %q", fields[0])
		}
		inst.Pred = pred
		fields = fields[1:]
	}
	if len(fields) > 0 && strings.HasPrefix(fields[0], "i") {
		if bits, err := parseWidth(fields[0]); err == nil {
			inst.Bits = bits
			fields = fields[1:]
		}
	}
	if op == OpBr || op == OpCondBr {
		// branch targets carry no type information; keep only the condition
		if op == OpCondBr && len(fields) > 0 {
			fields = fields[:1]
		} else {
			fields = nil
		}
	}
	p.block.Append(inst)
	if inst.Ident != "" {
		p.named[inst.Ident] = inst
	}
	p.pending = append(p.pending, pendingOperands{instr: inst, tokens: fields})
	return nil
}

func (p *parser) resolve() error {
	for _, pend := range p.pending {
		for _, tok := range pend.tokens {
			val, err := p.operand(tok)
			if err != nil {
				return errors.Wrapf(err, "in %q", pend.instr.String())
			}
			pend.instr.Args = append(pend.instr.Args, val)
		}
	}
	return nil
}

func (p *parser) operand(tok string) (Value, error) {
	switch {
	case strings.HasPrefix(tok, "%"):
		val, ok := p.named[tok[1:]]
		if !ok {
			return nil, errors.Errorf("undefined value %s", tok)
		}
		return val, nil
	case strings.HasPrefix(tok, "@"):
		return &Global{Sym: tok[1:]}, nil
	case strings.HasPrefix(tok, "#"):
		body, width, ok := strings.Cut(tok[1:], ":")
		if !ok {
			return nil, errors.Errorf("constant %q needs a width", tok)
		}
		bits, err := parseWidth(width)
		if err != nil {
			return nil, err
		}
		value, err := strconv.ParseInt(body, 0, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "malformed constant %q", tok)
		}
		return NewConst(value, bits), nil
	case strings.HasPrefix(tok, "undef"):
		bits := 0
		if _, width, ok := strings.Cut(tok, ":"); ok {
			var err error
			if bits, err = parseWidth(width); err != nil {
				return nil, err
			}
		}
		return &Undef{Bits: bits}, nil
	default:
		return nil, errors.Errorf("malformed operand %q", tok)
	}
}
