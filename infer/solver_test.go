package infer

import (
	"bytes"
	"strings"
	"testing"

	"github.com/cottand/delift/ir"
	"github.com/cottand/delift/lattice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solveFn(t *testing.T, fn *ir.Function) *Solver {
	t.Helper()
	solver, err := Run(fn, ir.NewStoreOracle(fn), ir.AMD64)
	require.NoError(t, err)
	require.True(t, solver.Solve())
	return solver
}

// adding a small constant to an unsigned byte: only the numeric case of the
// addition survives, so the result is capped at the constant's width and
// keeps the byte's unsigned lower bound
func TestSolveAddConstant(t *testing.T) {
	a := &ir.Param{Ident: "a", Bits: 8}
	add := &ir.Instr{Op: ir.OpAdd, Ident: "ret", Bits: 32, Args: []ir.Value{a, ir.NewConst(0x100, 32)}}
	fn := singleBlockFn(add)

	ctx := newTestContext(fn)
	require.NoError(t, ctx.VisitFunction())
	// the surrounding code knows a is an unsigned byte
	aTV, _ := ctx.VariableFor(a)
	ctx.constrain(Specializes{aTV, ctx.uint(8)})

	solver := NewSolver(ctx)
	require.True(t, solver.Solve())

	general, specific := solver.InferredType(add)
	require.NotNil(t, specific)
	assert.True(t, specific.IsEqualTo(lattice.Integral(32)))
	require.NotNil(t, general)
	assert.True(t, general.IsGeneralizationOf(lattice.Unsigned(9)), "the result's lower bound is no more specific than the constant's 9 active bits")
}

// a pointer is allocated, loaded from, and the loaded value compared
// against zero as a signed integer
func TestSolveLoadCompare(t *testing.T) {
	alloca := &ir.Instr{Op: ir.OpAlloca, Ident: "p"}
	load := &ir.Instr{Op: ir.OpLoad, Ident: "v", Bits: 32, Args: []ir.Value{alloca}}
	cmp := &ir.Instr{Op: ir.OpICmp, Ident: "r", Pred: ir.PredSlt, Args: []ir.Value{load, ir.NewConst(0, 32)}}
	solver := solveFn(t, singleBlockFn(alloca, load, cmp))

	pGeneral, _ := solver.InferredType(alloca)
	require.NotNil(t, pGeneral)
	assert.True(t, pGeneral.IsEqualTo(lattice.Pointer(64)))

	vGeneral, vSpecific := solver.InferredType(load)
	require.NotNil(t, vGeneral)
	require.NotNil(t, vSpecific)
	assert.True(t, vGeneral.IsEqualTo(lattice.Signed(8)))
	assert.True(t, vSpecific.IsEqualTo(lattice.Signed(64)))

	rGeneral, _ := solver.InferredType(cmp)
	require.NotNil(t, rGeneral)
	assert.True(t, rGeneral.IsEqualTo(lattice.Boolean()))
}

// xor with an all-ones mask is a bitwise negation: the operand becomes
// unsigned and the result is the operand
func TestSolveBitwiseNegation(t *testing.T) {
	x := &ir.Param{Ident: "x", Bits: 32}
	not := &ir.Instr{Op: ir.OpXor, Ident: "y", Bits: 32, Args: []ir.Value{x, ir.NewConst(-1, 32)}}
	solver := solveFn(t, singleBlockFn(not))

	xGeneral, _ := solver.InferredType(x)
	require.NotNil(t, xGeneral)
	assert.True(t, xGeneral.IsEqualTo(lattice.Unsigned(0)))

	yGeneral, _ := solver.InferredType(not)
	require.NotNil(t, yGeneral)
	assert.True(t, yGeneral.IsEqualTo(xGeneral), "the negation shares its operand's class")
}

// subtracting from zero is a two's-complement negation
func TestSolveArithmeticNegation(t *testing.T) {
	x := &ir.Param{Ident: "x", Bits: 32}
	neg := &ir.Instr{Op: ir.OpSub, Ident: "s", Bits: 32, Args: []ir.Value{ir.NewConst(0, 32), x}}
	solver := solveFn(t, singleBlockFn(neg))

	xGeneral, _ := solver.InferredType(x)
	require.NotNil(t, xGeneral)
	assert.True(t, xGeneral.IsEqualTo(lattice.Signed(0)))

	sGeneral, _ := solver.InferredType(neg)
	require.NotNil(t, sGeneral)
	assert.True(t, sGeneral.IsEqualTo(xGeneral))
}

// displacing a pointer by a constant: only the pointer case of the addition
// survives
func TestSolvePointerDisplacement(t *testing.T) {
	alloca := &ir.Instr{Op: ir.OpAlloca, Ident: "q"}
	add := &ir.Instr{Op: ir.OpAdd, Ident: "p", Bits: 64, Args: []ir.Value{alloca, ir.NewConst(8, 64)}}
	solver := solveFn(t, singleBlockFn(alloca, add))

	pGeneral, _ := solver.InferredType(add)
	require.NotNil(t, pGeneral)
	assert.True(t, pGeneral.IsEqualTo(lattice.Pointer(64)))
}

// a phi joining two unsigned values keeps the wider lower bound for the
// whole unified class
func TestSolvePhi(t *testing.T) {
	v1 := &ir.Param{Ident: "v1", Bits: 8}
	v2 := &ir.Param{Ident: "v2", Bits: 16}
	phi := &ir.Instr{Op: ir.OpPhi, Ident: "x", Bits: 16, Args: []ir.Value{v1, v2}}
	fn := singleBlockFn(phi)

	ctx := newTestContext(fn)
	require.NoError(t, ctx.VisitFunction())
	v1TV, _ := ctx.VariableFor(v1)
	v2TV, _ := ctx.VariableFor(v2)
	ctx.constrain(Specializes{v1TV, ctx.uint(8)})
	ctx.constrain(Specializes{v2TV, ctx.uint(16)})

	solver := NewSolver(ctx)
	require.True(t, solver.Solve())

	general, _ := solver.InferredType(phi)
	require.NotNil(t, general)
	assert.True(t, general.IsEqualTo(lattice.Unsigned(16)))
}

// a load observing a store is unified with the stored value
func TestSolveStoreForwarding(t *testing.T) {
	a := &ir.Param{Ident: "a", Bits: 32}
	alloca := &ir.Instr{Op: ir.OpAlloca, Ident: "p"}
	store := &ir.Instr{Op: ir.OpStore, Bits: 32, Args: []ir.Value{a, alloca}}
	load := &ir.Instr{Op: ir.OpLoad, Ident: "v", Bits: 32, Args: []ir.Value{alloca}}
	cmp := &ir.Instr{Op: ir.OpICmp, Ident: "r", Pred: ir.PredUlt, Args: []ir.Value{a, ir.NewConst(10, 32)}}
	solver := solveFn(t, singleBlockFn(alloca, store, load, cmp))

	loadGeneral, _ := solver.InferredType(load)
	aGeneral, _ := solver.InferredType(a)
	require.NotNil(t, loadGeneral)
	require.NotNil(t, aGeneral)
	assert.True(t, loadGeneral.IsEqualTo(aGeneral), "the comparison's unsigned evidence reaches the loaded value")
	assert.True(t, loadGeneral.IsEqualTo(lattice.Unsigned(8)))
}

// both signedness cases of a constant survive, so its lower bound is their
// union
func TestSolveConstantCaseFold(t *testing.T) {
	z := &ir.Param{Ident: "z", Bits: 32}
	constant := ir.NewConst(0x100, 32)
	and := &ir.Instr{Op: ir.OpAnd, Ident: "y", Bits: 32, Args: []ir.Value{z, constant}}
	solver := solveFn(t, singleBlockFn(and))

	general, specific := solver.InferredType(constant)
	require.NotNil(t, general)
	expected := lattice.NewUnion(lattice.Signed(10), lattice.Unsigned(9))
	assert.True(t, general.IsEqualTo(expected))
	require.NotNil(t, specific)
	assert.True(t, specific.IsEqualTo(lattice.Integral(32)))
}

func TestSolveInfeasible(t *testing.T) {
	// pretend the surrounding code proved an allocated pointer is an
	// unsigned byte
	alloca := &ir.Instr{Op: ir.OpAlloca, Ident: "q"}
	fn := singleBlockFn(alloca)
	ctx := newTestContext(fn)
	require.NoError(t, ctx.VisitFunction())
	qTV, _ := ctx.VariableFor(alloca)
	ctx.constrain(Specializes{qTV, ctx.uint(8)})

	solver := NewSolver(ctx)
	assert.False(t, solver.Solve())
}

// for a fixed input the inferred bounds render identically across runs
func TestSolveDeterministic(t *testing.T) {
	build := func() *ir.Function {
		a := &ir.Param{Ident: "a", Bits: 8}
		alloca := &ir.Instr{Op: ir.OpAlloca, Ident: "p"}
		store := &ir.Instr{Op: ir.OpStore, Bits: 32, Args: []ir.Value{a, alloca}}
		load := &ir.Instr{Op: ir.OpLoad, Ident: "v", Bits: 32, Args: []ir.Value{alloca}}
		add := &ir.Instr{Op: ir.OpAdd, Ident: "r", Bits: 32, Args: []ir.Value{load, ir.NewConst(0x100, 32)}}
		return singleBlockFn(alloca, store, load, add)
	}

	var renderings []string
	for i := 0; i < 3; i++ {
		solver := solveFn(t, build())
		var buf bytes.Buffer
		solver.DumpBounds(&buf)
		renderings = append(renderings, buf.String())
	}
	assert.Equal(t, renderings[0], renderings[1])
	assert.Equal(t, renderings[1], renderings[2])
	assert.NotEmpty(t, renderings[0])
}

// the textual pipeline end to end: parse, infer, solve, query
func TestSolveParsedFunction(t *testing.T) {
	input := `
func @abs(%x:i32)
entry:
  %r = icmp slt %x, #0:i32
  br.cond %r, negate, done
negate:
  %n = sub i32 #0:i32, %x
  br done
done:
  %out = phi i32 %x, %n
  ret %out
`
	fn, err := ir.ParseAssembly(strings.NewReader(input))
	require.NoError(t, err)
	solver := solveFn(t, fn)

	out := fn.Blocks[2].Instrs[0]
	general, specific := solver.InferredType(out)
	require.NotNil(t, general)
	require.NotNil(t, specific)
	// the phi unifies %out's class with %x (and %n, which the negation
	// also unifies with %x), and the comparison bounds %x as signed
	assert.True(t, general.IsEqualTo(lattice.Signed(8)))
	assert.True(t, specific.IsEqualTo(lattice.Signed(64)))
}
