package infer

import (
	"io"
	"log/slog"

	"github.com/cottand/delift/internal/log"
	"github.com/cottand/delift/ir"
	"github.com/cottand/delift/lattice"
)

// Solver consumes the constraint system of an InferenceContext and refines,
// for every unified group of type variables, a most-general lower bound and
// a most-specific upper bound. Case analyses are explored by backtracking:
// each disjunct runs in a forked state, and the surviving branches are
// folded together.
type Solver struct {
	ctx     *InferenceContext
	root    *state
	current *state
	logger  *slog.Logger
}

// NewSolver sorts the generated constraints by kind, so unifications and
// atomic inequalities resolve before case analysis, and binds the pre-bound
// built-in variables into the root state.
func NewSolver(ctx *InferenceContext) *Solver {
	root := newRootState(sortedByKind(ctx.Constraints()), ctx.VariableCount())
	for i := 0; i < ctx.VariableCount(); i++ {
		tv := TypeVariable(i)
		if bound := ctx.BoundType(tv); bound != nil {
			u, _ := root.refOf(tv)
			root.bind(u, bound)
		}
	}
	return &Solver{
		ctx:     ctx,
		root:    root,
		current: root,
		logger:  log.DefaultLogger.With("section", "solver"),
	}
}

// Solve processes the current state's constraints to exhaustion. It reports
// whether the system is satisfiable; on failure the partial results of the
// failing state are discarded by the caller.
func (s *Solver) Solve() bool {
	for {
		constraint := s.current.nextConstraint()
		if constraint == nil {
			return true
		}
		s.logger.Debug("processing constraint", "constraint", constraint.String())
		if !s.process(constraint) {
			return false
		}
	}
}

func (s *Solver) process(constraint Constraint) bool {
	switch c := constraint.(type) {
	case IsEqual:
		u, ok := s.current.refOf(c.Left)
		if !ok {
			return false
		}
		return s.current.unify(u, c.Right)

	case Specializes:
		return s.process(Generalizes{Left: c.Right, Right: c.Left})

	case Generalizes:
		sub, okSub := s.current.refOf(c.Right)
		super, okSuper := s.current.refOf(c.Left)
		if !okSub || !okSuper {
			return false
		}
		return s.current.addSpecialization(sub, super)

	case Conjunction:
		child := s.current.fork(sortedByKind(c.Children))
		if !s.solveIn(child) {
			return false
		}
		return child.commit()

	case Disjunction:
		var succeeded []*state
		for _, disjunct := range c.Children {
			branch := s.current.fork([]Constraint{disjunct})
			if s.solveIn(branch) {
				succeeded = append(succeeded, branch)
			}
		}
		switch len(succeeded) {
		case 0:
			return false
		case 1:
			return succeeded[0].commit()
		default:
			return mergeDisjunctionBranches(s.current, succeeded)
		}

	default:
		return false
	}
}

func (s *Solver) solveIn(child *state) bool {
	previous := s.current
	s.current = child
	defer func() { s.current = previous }()
	return s.Solve()
}

// InferredType returns the bounds inferred for an IR value: its
// most-general lower bound and most-specific upper bound, either of which
// may be nil when nothing was learned on that side.
func (s *Solver) InferredType(v ir.Value) (general, specific lattice.Type) {
	tv, ok := s.ctx.VariableFor(v)
	if !ok {
		return nil, nil
	}
	u, ok := s.current.refOf(tv)
	if !ok {
		return nil, nil
	}
	return s.current.generalBound(u), s.current.specificBound(u)
}

// DumpBounds renders the bounds table of the current state.
func (s *Solver) DumpBounds(w io.Writer) {
	s.current.dump(w, s.ctx.VariableCount())
}

// Run wires the whole core together: it generates the constraint system for
// fn and returns a solver ready to Solve.
func Run(fn *ir.Function, oracle ir.MemoryOracle, target ir.Target) (*Solver, error) {
	ctx := NewInferenceContext(fn, oracle, target)
	if err := ctx.VisitFunction(); err != nil {
		return nil, err
	}
	return NewSolver(ctx), nil
}
