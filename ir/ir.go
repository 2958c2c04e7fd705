// Package ir holds the low-level intermediate representation the inference
// core consumes: a control-flow graph of basic blocks whose instructions
// operate on untyped bitvectors of known width. The IR arrives already
// lowered; in particular there are no aggregate address computations left.
package ir

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

type Opcode uint8

const (
	OpInvalid Opcode = iota

	OpAdd
	OpSub
	OpMul
	OpSDiv
	OpUDiv
	OpSRem
	OpURem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpLShr
	OpAShr

	OpICmp
	OpAlloca
	OpLoad
	OpStore
	OpGetElementPtr
	OpPhi
	OpSelect
	OpCall
	OpIntCast
	OpPtrCast

	OpBr
	OpCondBr
	OpRet
)

var opcodeNames = map[Opcode]string{
	OpAdd:           "add",
	OpSub:           "sub",
	OpMul:           "mul",
	OpSDiv:          "sdiv",
	OpUDiv:          "udiv",
	OpSRem:          "srem",
	OpURem:          "urem",
	OpAnd:           "and",
	OpOr:            "or",
	OpXor:           "xor",
	OpShl:           "shl",
	OpLShr:          "lshr",
	OpAShr:          "ashr",
	OpICmp:          "icmp",
	OpAlloca:        "alloca",
	OpLoad:          "load",
	OpStore:         "store",
	OpGetElementPtr: "getelementptr",
	OpPhi:           "phi",
	OpSelect:        "select",
	OpCall:          "call",
	OpIntCast:       "cast.int",
	OpPtrCast:       "cast.ptr",
	OpBr:            "br",
	OpCondBr:        "br.cond",
	OpRet:           "ret",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return "op(" + strconv.Itoa(int(o)) + ")"
}

// IsBinary reports whether the opcode is a two-operand arithmetic or
// bitwise operation.
func (o Opcode) IsBinary() bool {
	return o >= OpAdd && o <= OpAShr
}

func (o Opcode) IsTerminator() bool {
	return o == OpBr || o == OpCondBr || o == OpRet
}

// Predicate is an integer comparison predicate.
type Predicate uint8

const (
	PredNone Predicate = iota
	PredEq
	PredNe
	PredUgt
	PredUge
	PredUlt
	PredUle
	PredSgt
	PredSge
	PredSlt
	PredSle
)

var predicateNames = map[Predicate]string{
	PredEq:  "eq",
	PredNe:  "ne",
	PredUgt: "ugt",
	PredUge: "uge",
	PredUlt: "ult",
	PredUle: "ule",
	PredSgt: "sgt",
	PredSge: "sge",
	PredSlt: "slt",
	PredSle: "sle",
}

func (p Predicate) String() string {
	if name, ok := predicateNames[p]; ok {
		return name
	}
	return "pred(" + strconv.Itoa(int(p)) + ")"
}

func (p Predicate) IsSigned() bool {
	return p >= PredSgt && p <= PredSle
}

func (p Predicate) IsUnsigned() bool {
	return p >= PredUgt && p <= PredUle
}

// Value is anything an instruction can take as an operand. Values are
// compared by identity; the inference core keys its registry on them.
type Value interface {
	fmt.Stringer
	isValue()
}

var (
	_ Value = (*Const)(nil)
	_ Value = (*Global)(nil)
	_ Value = (*Undef)(nil)
	_ Value = (*Param)(nil)
	_ Value = (*Instr)(nil)
	_ Value = (*ConstExpr)(nil)
)

// Const is an integer constant of a known bit width. Raw stores the
// two's-complement bit pattern truncated to Bits.
type Const struct {
	Raw  uint64
	Bits int
}

func NewConst(value int64, width int) *Const {
	return &Const{Raw: truncate(uint64(value), width), Bits: width}
}

func truncate(raw uint64, width int) uint64 {
	if width <= 0 || width >= 64 {
		return raw
	}
	return raw & (1<<uint(width) - 1)
}

func (c *Const) isValue() {}

// ActiveBits is the number of bits needed to represent the raw value as an
// unsigned integer.
func (c *Const) ActiveBits() int {
	return bits.Len64(c.Raw)
}

// MinSignedBits is the number of bits needed to represent the value as a
// two's-complement signed integer, including the sign bit.
func (c *Const) MinSignedBits() int {
	v := c.SignedValue()
	if v < 0 {
		v = ^v
	}
	return bits.Len64(uint64(v)) + 1
}

// SignedValue sign-extends the raw bit pattern to 64 bits.
func (c *Const) SignedValue() int64 {
	if c.Bits <= 0 || c.Bits >= 64 {
		return int64(c.Raw)
	}
	shift := uint(64 - c.Bits)
	return int64(c.Raw<<shift) >> shift
}

func (c *Const) IsZero() bool {
	return c.Raw == 0
}

// IsAllOnes reports whether every bit within the constant's width is set:
// the mask a bitwise negation is written with.
func (c *Const) IsAllOnes() bool {
	return c.Raw == truncate(^uint64(0), c.Bits)
}

func (c *Const) String() string {
	return fmt.Sprintf("#%d:i%d", c.SignedValue(), c.Bits)
}

// Global is a reference to a symbol outside the function.
type Global struct {
	Sym string
}

func (g *Global) isValue()       {}
func (g *Global) String() string { return "@" + g.Sym }

// Undef is an undefined value of a given width.
type Undef struct {
	Bits int
}

func (u *Undef) isValue()       {}
func (u *Undef) String() string { return "undef:i" + strconv.Itoa(u.Bits) }

// Param is a function parameter.
type Param struct {
	Ident string
	Bits  int
}

func (p *Param) isValue()       {}
func (p *Param) String() string { return "%" + p.Ident }

// ConstExpr is a constant expression: an operation folded into operand
// position. The core treats it as the synthetic instruction AsInstr returns,
// keyed by the expression itself.
type ConstExpr struct {
	Op   Opcode
	Bits int
	Args []Value
}

func (e *ConstExpr) isValue() {}

// AsInstr builds the synthetic, block-less instruction equivalent to the
// expression.
func (e *ConstExpr) AsInstr() *Instr {
	return &Instr{Op: e.Op, Bits: e.Bits, Args: e.Args}
}

func (e *ConstExpr) String() string {
	parts := make([]string, 0, len(e.Args)+1)
	parts = append(parts, e.Op.String())
	for _, a := range e.Args {
		parts = append(parts, a.String())
	}
	return "(" + strings.Join(parts, " ") + ")"
}

// Instr is one instruction. Bits is the width of the integer result, or of
// the accessed memory for loads and stores; it is 0 where no width applies.
type Instr struct {
	Op    Opcode
	Ident string
	Bits  int
	Pred  Predicate // only for OpICmp
	Args  []Value
	Block *Block
}

func (i *Instr) isValue() {}

// PointerOperand is the address operand of a load or store.
func (i *Instr) PointerOperand() Value {
	switch i.Op {
	case OpLoad:
		return i.Args[0]
	case OpStore:
		return i.Args[1]
	}
	return nil
}

// StoredOperand is the value a store writes.
func (i *Instr) StoredOperand() Value {
	if i.Op != OpStore {
		return nil
	}
	return i.Args[0]
}

func (i *Instr) String() string {
	var sb strings.Builder
	if i.Ident != "" {
		sb.WriteString("%" + i.Ident + " = ")
	}
	sb.WriteString(i.Op.String())
	if i.Op == OpICmp {
		sb.WriteString(" " + i.Pred.String())
	}
	if i.Bits > 0 {
		sb.WriteString(" i" + strconv.Itoa(i.Bits))
	}
	for _, a := range i.Args {
		sb.WriteString(" " + a.String())
	}
	return sb.String()
}

type Block struct {
	Ident  string
	Instrs []*Instr
}

func (b *Block) Append(i *Instr) *Instr {
	i.Block = b
	b.Instrs = append(b.Instrs, i)
	return i
}

type Function struct {
	Ident  string
	Params []*Param
	Blocks []*Block
}

func (f *Function) NewBlock(name string) *Block {
	b := &Block{Ident: name}
	f.Blocks = append(f.Blocks, b)
	return b
}

func (f *Function) String() string {
	var sb strings.Builder
	sb.WriteString("func @" + f.Ident + "(")
	for i, p := range f.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("%" + p.Ident + ":i" + strconv.Itoa(p.Bits))
	}
	sb.WriteString(")\n")
	for _, b := range f.Blocks {
		sb.WriteString(b.Ident + ":\n")
		for _, inst := range b.Instrs {
			sb.WriteString("  " + inst.String() + "\n")
		}
	}
	return sb.String()
}
