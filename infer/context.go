package infer

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/cottand/delift/internal/log"
	"github.com/cottand/delift/ir"
	"github.com/cottand/delift/lattice"
	"github.com/cottand/delift/lifterr"
)

var logger = slog.New(ir.SlogHandler(log.DefaultLogger.Handler())).With("section", "infer")

// varEntry records what a type variable stands for: exactly one of an IR
// value or a pre-bound lattice literal.
type varEntry struct {
	value ir.Value
	bound lattice.Type
}

// InferenceContext walks one function and produces the constraint system
// for it, together with the registry mapping each encountered value to its
// type variable. The lattice literals the generator needs (boolean, the
// numeric width anchors, the pointer of the target's width) are owned here,
// allocated fresh per use.
type InferenceContext struct {
	fn     *ir.Function
	oracle ir.MemoryOracle
	target ir.Target

	constraints []Constraint
	vars        []varEntry
	valueVars   map[ir.Value]TypeVariable
	visited     map[ir.Value]struct{}
}

func NewInferenceContext(fn *ir.Function, oracle ir.MemoryOracle, target ir.Target) *InferenceContext {
	return &InferenceContext{
		fn:        fn,
		oracle:    oracle,
		target:    target,
		valueVars: make(map[ir.Value]TypeVariable),
		visited:   make(map[ir.Value]struct{}),
	}
}

// markVisited reports whether v was seen before, marking it either way.
func (c *InferenceContext) markVisited(v ir.Value) bool {
	if _, seen := c.visited[v]; seen {
		return true
	}
	c.visited[v] = struct{}{}
	return false
}

// VisitFunction emits constraints for every instruction of the function,
// exactly once each. Constants in operand position are processed before the
// instruction that uses them.
func (c *InferenceContext) VisitFunction() error {
	for _, block := range c.fn.Blocks {
		for _, inst := range block.Instrs {
			if err := c.visit(inst, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// valueVariable returns the variable for a value, allocating it on first
// sight.
func (c *InferenceContext) valueVariable(v ir.Value) TypeVariable {
	if tv, ok := c.valueVars[v]; ok {
		return tv
	}
	tv := TypeVariable(len(c.vars))
	c.vars = append(c.vars, varEntry{value: v})
	c.valueVars[v] = tv
	return tv
}

// VariableFor looks up the variable of an already-visited value.
func (c *InferenceContext) VariableFor(v ir.Value) (TypeVariable, bool) {
	tv, ok := c.valueVars[v]
	return tv, ok
}

// BoundType returns the pre-bound lattice literal of a built-in variable,
// or nil for value-backed variables.
func (c *InferenceContext) BoundType(tv TypeVariable) lattice.Type {
	if int(tv) >= len(c.vars) {
		return nil
	}
	return c.vars[tv].bound
}

func (c *InferenceContext) VariableCount() int { return len(c.vars) }

func (c *InferenceContext) Constraints() []Constraint { return c.constraints }

func (c *InferenceContext) constrain(constraint Constraint) {
	c.constraints = append(c.constraints, constraint)
}

// visit emits the constraints of one instruction. key overrides the value
// the result constraints attach to; it is non-nil when inst is the
// synthetic form of a constant expression.
func (c *InferenceContext) visit(inst *ir.Instr, key ir.Value) error {
	var keyValue ir.Value = inst
	if key != nil {
		keyValue = key
	}
	if c.markVisited(keyValue) {
		return nil
	}
	for _, arg := range inst.Args {
		if err := c.visitOperand(arg); err != nil {
			return err
		}
	}
	logger.Debug("emitting constraints", "instr", keyValue)

	switch {
	case inst.Op.IsBinary():
		c.visitBinaryOperator(inst, keyValue)
	case inst.Op == ir.OpICmp:
		c.visitICmp(inst, keyValue)
	case inst.Op == ir.OpAlloca:
		c.constrain(Specializes{c.valueVariable(keyValue), c.pointer()})
	case inst.Op == ir.OpLoad:
		c.visitLoad(inst, keyValue)
	case inst.Op == ir.OpStore:
		// Teaches us nothing on its own: memory is reused for unrelated
		// types. It becomes the defining access a later load asks the
		// oracle about.
	case inst.Op == ir.OpGetElementPtr:
		return lifterr.New(lifterr.NewUnloweredAccess{Instr: inst})
	case inst.Op == ir.OpPhi:
		variable := c.valueVariable(keyValue)
		for _, incoming := range inst.Args {
			c.constrain(IsEqual{variable, c.valueVariable(incoming)})
		}
	case inst.Op == ir.OpSelect:
		c.visitSelect(inst, keyValue)
	case inst.Op == ir.OpCall:
		// nothing to infer here; calling-convention analysis happens
		// elsewhere
	case inst.Op == ir.OpIntCast, inst.Op == ir.OpPtrCast:
		c.visitCast(inst, keyValue)
	case inst.Op.IsTerminator():
		// nothing
	default:
		return lifterr.New(lifterr.NewUnknownOpcode{Instr: inst})
	}
	return nil
}

// visitOperand processes constants before the instruction using them so
// their variables exist.
func (c *InferenceContext) visitOperand(arg ir.Value) error {
	switch v := arg.(type) {
	case *ir.Const:
		c.visitConstant(v)
	case *ir.ConstExpr:
		return c.visit(v.AsInstr(), v)
	case *ir.Global, *ir.Undef:
		// nothing to learn
	}
	return nil
}

func (c *InferenceContext) visitConstant(value *ir.Const) {
	if c.markVisited(value) {
		return
	}
	variable := c.valueVariable(value)
	// Case analysis over whether the constant is used signed. The same
	// constant reused with different meanings shares this one variable.
	c.constrain(Disjunction{Children: []Constraint{
		Specializes{variable, c.sint(value.MinSignedBits())},
		Specializes{variable, c.uint(value.ActiveBits())},
	}})
	c.constrain(Generalizes{variable, c.num(value.Bits)})
}

func (c *InferenceContext) visitICmp(inst *ir.Instr, key ir.Value) {
	c.constrain(Specializes{c.valueVariable(key), c.boolean()})

	var minSize, maxSize TypeVariable
	switch {
	case inst.Pred.IsUnsigned():
		minSize = c.uint(8)
		maxSize = c.uint(64)
	case inst.Pred.IsSigned():
		minSize = c.sint(8)
		maxSize = c.sint(64)
	default:
		// equality teaches us nothing about signedness or width
		return
	}
	for _, arg := range inst.Args {
		operand := c.valueVariable(arg)
		c.constrain(Specializes{operand, minSize})
		c.constrain(Generalizes{operand, maxSize})
	}
}

func (c *InferenceContext) visitLoad(inst *ir.Instr, key ir.Value) {
	variable := c.valueVariable(key)
	c.constrain(Specializes{c.valueVariable(inst.PointerOperand()), c.pointer()})
	c.constrain(Generalizes{variable, c.num(inst.Bits)})

	def := c.oracle.DefiningAccess(inst)
	if def.Kind != ir.DefStore || def.Access == nil {
		return
	}
	if def.Access.Op != ir.OpStore {
		// the oracle lied; skip the refinement rather than fail the run
		logger.Warn("defining access of load is not a store", "load", inst, "access", def.Access)
		return
	}
	stored := def.Access.StoredOperand()
	c.constrain(IsEqual{variable, c.valueVariable(stored)})
}

func (c *InferenceContext) visitSelect(inst *ir.Instr, key ir.Value) {
	cond, ifTrue, ifFalse := inst.Args[0], inst.Args[1], inst.Args[2]
	trueVariable := c.valueVariable(ifTrue)
	c.constrain(Specializes{c.valueVariable(cond), c.boolean()})
	c.constrain(IsEqual{trueVariable, c.valueVariable(ifFalse)})
	c.constrain(Generalizes{c.valueVariable(key), trueVariable})
}

func (c *InferenceContext) visitBinaryOperator(inst *ir.Instr, key ir.Value) {
	variable := c.valueVariable(key)
	left := c.valueVariable(inst.Args[0])
	right := c.valueVariable(inst.Args[1])

	switch inst.Op {
	case ir.OpSDiv, ir.OpSRem, ir.OpLShr:
		// Division and modulus produce a result no wider than the input.
		c.constrain(Specializes{variable, c.uint(0)})
		c.constrain(Generalizes{variable, left})
		c.constrain(Generalizes{variable, right})
	case ir.OpUDiv, ir.OpURem, ir.OpAShr:
		c.constrain(Specializes{variable, c.sint(0)})
		c.constrain(Generalizes{variable, left})
		c.constrain(Generalizes{variable, right})
	case ir.OpAnd:
		// A logical AND is sometimes used to truncate integers, even
		// signed ones and sometimes even pointers, so don't infer
		// signedness.
		c.constrain(Generalizes{variable, left})
		c.constrain(Generalizes{variable, right})
	case ir.OpAdd:
		c.constrain(c.pointerArithmeticCases(variable, left, right, false))
	case ir.OpSub:
		// special case for two's-complement negation
		if constant, ok := inst.Args[0].(*ir.Const); ok && constant.IsZero() {
			c.constrain(Specializes{right, c.sint(0)})
			c.constrain(IsEqual{variable, right})
			return
		}
		c.constrain(c.pointerArithmeticCases(variable, left, right, true))
	case ir.OpXor:
		// special case for bitwise negation
		if other, ok := xorNegatedOperand(inst); ok {
			operand := c.valueVariable(other)
			c.constrain(Specializes{operand, c.uint(0)})
			c.constrain(IsEqual{variable, operand})
			return
		}
		c.constrain(Specializes{variable, left})
		c.constrain(Specializes{variable, right})
	default:
		// everything else produces an output at least as large as the
		// input
		c.constrain(Specializes{variable, left})
		c.constrain(Specializes{variable, right})
	}
}

// pointerArithmeticCases builds the case analysis shared by additions and
// subtractions: both sides numeric, or one side a pointer being displaced.
// Subtraction adds a fourth case, pointer difference.
func (c *InferenceContext) pointerArithmeticCases(variable, left, right TypeVariable, isSub bool) Constraint {
	numeric := c.num(0)
	pointer := c.pointer()

	bothNumeric := Conjunction{Children: []Constraint{
		Specializes{left, numeric},
		Specializes{right, numeric},
		Specializes{variable, left},
		Specializes{variable, right},
	}}
	leftPointer := Conjunction{Children: []Constraint{
		Specializes{left, pointer},
		Specializes{right, numeric},
		Specializes{variable, pointer},
	}}
	rightPointer := Conjunction{Children: []Constraint{
		Specializes{left, numeric},
		Specializes{right, pointer},
		Specializes{variable, pointer},
	}}
	cases := []Constraint{bothNumeric, leftPointer, rightPointer}
	if isSub {
		// subtracting pointers yields an integer
		pointerDifference := Conjunction{Children: []Constraint{
			Specializes{left, pointer},
			Specializes{right, pointer},
			Specializes{variable, numeric},
		}}
		cases = append(cases, pointerDifference)
	}
	return Disjunction{Children: cases}
}

func xorNegatedOperand(inst *ir.Instr) (ir.Value, bool) {
	if constant, ok := inst.Args[1].(*ir.Const); ok && constant.IsAllOnes() {
		return inst.Args[0], true
	}
	if constant, ok := inst.Args[0].(*ir.Const); ok && constant.IsAllOnes() {
		return inst.Args[1], true
	}
	return nil, false
}

func (c *InferenceContext) visitCast(inst *ir.Instr, key ir.Value) {
	variable := c.valueVariable(key)
	casted := c.valueVariable(inst.Args[0])

	var anchor TypeVariable
	if inst.Op == ir.OpIntCast {
		anchor = c.num(inst.Bits)
	} else {
		anchor = c.pointer()
	}
	// Try to imply that the value had this type all along; fall back to an
	// actual conversion.
	c.constrain(Disjunction{Children: []Constraint{
		Conjunction{Children: []Constraint{
			Specializes{casted, anchor},
			IsEqual{variable, casted},
		}},
		Specializes{variable, anchor},
	}})
}

// --- pre-bound built-in variables ---

func (c *InferenceContext) builtin(t lattice.Type) TypeVariable {
	tv := TypeVariable(len(c.vars))
	c.vars = append(c.vars, varEntry{bound: t})
	return tv
}

func (c *InferenceContext) anyType() TypeVariable { return c.builtin(lattice.Any()) }
func (c *InferenceContext) boolean() TypeVariable { return c.builtin(lattice.Boolean()) }
func (c *InferenceContext) num(width int) TypeVariable {
	return c.builtin(lattice.Integral(width))
}
func (c *InferenceContext) sint(width int) TypeVariable {
	return c.builtin(lattice.Signed(width))
}
func (c *InferenceContext) uint(width int) TypeVariable {
	return c.builtin(lattice.Unsigned(width))
}
func (c *InferenceContext) pointer() TypeVariable {
	return c.builtin(lattice.Pointer(c.target.PointerWidth()))
}
func (c *InferenceContext) dataPointer(pointee lattice.Type) TypeVariable {
	return c.builtin(lattice.PointerTo(pointee, c.target.PointerWidth()))
}
func (c *InferenceContext) functionPointer() TypeVariable {
	return c.builtin(lattice.FunctionPointer(c.target.PointerWidth()))
}
func (c *InferenceContext) labelPointer() TypeVariable {
	return c.builtin(lattice.LabelPointer(c.target.PointerWidth()))
}

// Print renders the variable registry followed by the constraint list.
func (c *InferenceContext) Print(w io.Writer) {
	for i, entry := range c.vars {
		if entry.bound != nil {
			fmt.Fprintf(w, "%d:  <%s>\n", i, entry.bound)
		} else {
			fmt.Fprintf(w, "%d: %s\n", i, entry.value)
		}
	}
	fmt.Fprintln(w)
	for _, constraint := range c.constraints {
		fmt.Fprintln(w, constraint)
	}
}
