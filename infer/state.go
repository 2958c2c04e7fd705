package infer

import (
	"fmt"
	"io"
	"slices"

	"github.com/benbjohnson/immutable"
	"github.com/cottand/delift/lattice"
	set "github.com/hashicorp/go-set/v3"
)

// UnifiedRef identifies an equivalence class of type variables under
// IsEqual constraints.
type UnifiedRef int

// specPair records that Sub's type specializes Super's.
type specPair struct {
	Sub, Super UnifiedRef
}

func (p specPair) Hash() uint64 {
	return 31*uint64(p.Sub+1) ^ 7919*uint64(p.Super+1)
}

type refHasher struct{}

func (refHasher) Hash(u UnifiedRef) uint32   { return uint32(u) * 2654435761 }
func (refHasher) Equal(a, b UnifiedRef) bool { return a == b }

type tvHasher struct{}

func (tvHasher) Hash(tv TypeVariable) uint32  { return uint32(tv) * 2654435761 }
func (tvHasher) Equal(a, b TypeVariable) bool { return a == b }

var (
	_ immutable.Hasher[UnifiedRef]   = refHasher{}
	_ immutable.Hasher[TypeVariable] = tvHasher{}
)

// state is one layer of the solver's backtracking tree. Every table is a
// local layer over the parent: lookups search this layer first and then the
// chain of parents, writes always land locally. Committing a child merges
// its layers into the parent; dropping it discards them.
type state struct {
	parent *state

	constraints []Constraint
	next        int

	refGroups       *immutable.Map[UnifiedRef, []TypeVariable]
	unification     *immutable.Map[TypeVariable, UnifiedRef]
	boundTypes      *immutable.Map[UnifiedRef, lattice.Type]
	generalBounds   *immutable.Map[UnifiedRef, lattice.Type]
	specificBounds  *immutable.Map[UnifiedRef, lattice.Type]
	specializations *set.HashSet[specPair, uint64]
}

// newRootState allocates the unified reference of every type variable up
// front, in variable order. Keeping reference identities stable across
// disjunction branches is what lets their bound maps merge element-wise.
func newRootState(constraints []Constraint, varCount int) *state {
	s := &state{
		constraints:     constraints,
		refGroups:       immutable.NewMap[UnifiedRef, []TypeVariable](refHasher{}),
		unification:     immutable.NewMap[TypeVariable, UnifiedRef](tvHasher{}),
		boundTypes:      immutable.NewMap[UnifiedRef, lattice.Type](refHasher{}),
		generalBounds:   immutable.NewMap[UnifiedRef, lattice.Type](refHasher{}),
		specificBounds:  immutable.NewMap[UnifiedRef, lattice.Type](refHasher{}),
		specializations: set.NewHashSet[specPair, uint64](0),
	}
	for i := 0; i < varCount; i++ {
		s.unification = s.unification.Set(TypeVariable(i), UnifiedRef(i))
		s.refGroups = s.refGroups.Set(UnifiedRef(i), []TypeVariable{TypeVariable(i)})
	}
	return s
}

// fork layers a child state over s with its own constraint sequence.
func (s *state) fork(constraints []Constraint) *state {
	return &state{
		parent:          s,
		constraints:     constraints,
		refGroups:       immutable.NewMap[UnifiedRef, []TypeVariable](refHasher{}),
		unification:     immutable.NewMap[TypeVariable, UnifiedRef](tvHasher{}),
		boundTypes:      immutable.NewMap[UnifiedRef, lattice.Type](refHasher{}),
		generalBounds:   immutable.NewMap[UnifiedRef, lattice.Type](refHasher{}),
		specificBounds:  immutable.NewMap[UnifiedRef, lattice.Type](refHasher{}),
		specializations: set.NewHashSet[specPair, uint64](0),
	}
}

func (s *state) nextConstraint() Constraint {
	if s.next >= len(s.constraints) {
		return nil
	}
	c := s.constraints[s.next]
	s.next++
	return c
}

// --- chain lookups ---

func (s *state) refOf(tv TypeVariable) (UnifiedRef, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if u, ok := cur.unification.Get(tv); ok {
			return u, true
		}
	}
	return 0, false
}

func (s *state) groupOf(u UnifiedRef) []TypeVariable {
	for cur := s; cur != nil; cur = cur.parent {
		if group, ok := cur.refGroups.Get(u); ok {
			return group
		}
	}
	return nil
}

type boundSelector func(*state) *immutable.Map[UnifiedRef, lattice.Type]

func selectBoundTypes(s *state) *immutable.Map[UnifiedRef, lattice.Type]     { return s.boundTypes }
func selectGeneralBounds(s *state) *immutable.Map[UnifiedRef, lattice.Type]  { return s.generalBounds }
func selectSpecificBounds(s *state) *immutable.Map[UnifiedRef, lattice.Type] { return s.specificBounds }

func (s *state) chainType(sel boundSelector, u UnifiedRef) lattice.Type {
	for cur := s; cur != nil; cur = cur.parent {
		if t, ok := sel(cur).Get(u); ok {
			return t
		}
	}
	return nil
}

func (s *state) boundType(u UnifiedRef) lattice.Type     { return s.chainType(selectBoundTypes, u) }
func (s *state) generalBound(u UnifiedRef) lattice.Type  { return s.chainType(selectGeneralBounds, u) }
func (s *state) specificBound(u UnifiedRef) lattice.Type { return s.chainType(selectSpecificBounds, u) }

func (s *state) hasSpecialization(p specPair) bool {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.specializations.Contains(p) {
			return true
		}
	}
	return false
}

// specPairs returns every specialization pair visible from this state, in a
// deterministic order.
func (s *state) specPairs() []specPair {
	var pairs []specPair
	for cur := s; cur != nil; cur = cur.parent {
		pairs = append(pairs, cur.specializations.Slice()...)
	}
	slices.SortFunc(pairs, func(a, b specPair) int {
		if a.Sub != b.Sub {
			return int(a.Sub) - int(b.Sub)
		}
		return int(a.Super) - int(b.Super)
	})
	return pairs
}

// --- mutation, always into the local layer ---

func (s *state) setGroup(u UnifiedRef, group []TypeVariable) {
	s.refGroups = s.refGroups.Set(u, group)
}

func (s *state) setUnification(tv TypeVariable, u UnifiedRef) {
	s.unification = s.unification.Set(tv, u)
}

// bind pins a class to an exact lattice type. It succeeds when the class is
// unbound or already bound to an equal type.
func (s *state) bind(u UnifiedRef, t lattice.Type) bool {
	if existing := s.boundType(u); existing != nil {
		return existing.IsEqualTo(t)
	}
	s.boundTypes = s.boundTypes.Set(u, t)
	return true
}

// contradicts reports whether a specific-side bound rules out a
// general-side bound: the upper bound strictly generalizes the lower one,
// so no type can satisfy both. Laterally incomparable bounds are accepted;
// the lattice check is deliberately pairwise and incomplete.
func contradicts(specific, general lattice.Type) bool {
	return specific.IsGeneralizationOf(general) && !specific.IsEqualTo(general)
}

// tightenGeneral refines the most-general lower bound of u with newBound
// and pushes the refinement down every specializing class.
func (s *state) tightenGeneral(u UnifiedRef, newBound lattice.Type) bool {
	if opposite := s.specificBound(u); opposite != nil && contradicts(opposite, newBound) {
		return false
	}
	if !s.updateBound(boundGeneral, u, newBound) {
		return false
	}
	for _, p := range s.specPairs() {
		if p.Super == u {
			if !s.tightenGeneral(p.Sub, newBound) {
				return false
			}
		}
	}
	return true
}

// tightenSpecific refines the most-specific upper bound of u with newBound
// and pushes the refinement up every generalizing class.
func (s *state) tightenSpecific(u UnifiedRef, newBound lattice.Type) bool {
	if opposite := s.generalBound(u); opposite != nil && contradicts(newBound, opposite) {
		return false
	}
	if !s.updateBound(boundSpecific, u, newBound) {
		return false
	}
	for _, p := range s.specPairs() {
		if p.Sub == u {
			if !s.tightenSpecific(p.Super, newBound) {
				return false
			}
		}
	}
	return true
}

type boundKind uint8

const (
	boundGeneral boundKind = iota
	boundSpecific
)

// updateBound writes newBound when it is more restrictive than the current
// bound. Two bounds neither of which refines the other are accepted only
// when a type satisfying both can exist at all.
func (s *state) updateBound(kind boundKind, u UnifiedRef, newBound lattice.Type) bool {
	sel := selectGeneralBounds
	if kind == boundSpecific {
		sel = selectSpecificBounds
	}
	current := s.chainType(sel, u)
	switch {
	case current == nil:
		// first bound
	case current.IsEqualTo(newBound):
		return true
	case current.IsGeneralizationOf(newBound):
		// the new bound is more restrictive and wins
	case newBound.IsGeneralizationOf(current):
		return true
	case !lattice.Compatible(current, newBound):
		return false
	default:
		return true
	}
	if kind == boundGeneral {
		s.generalBounds = s.generalBounds.Set(u, newBound)
	} else {
		s.specificBounds = s.specificBounds.Set(u, newBound)
	}
	return true
}

// addSpecialization records that sub's type specializes super's, closes the
// relation transitively, and lets already-known information flow across the
// new edge.
func (s *state) addSpecialization(sub, super UnifiedRef) bool {
	if sub == super {
		return true
	}
	p := specPair{Sub: sub, Super: super}
	if s.hasSpecialization(p) {
		return true
	}
	s.specializations.Insert(p)

	if bound := s.boundType(sub); bound != nil {
		if !s.tightenSpecific(super, bound) {
			return false
		}
	} else if bound := s.boundType(super); bound != nil {
		if !s.tightenGeneral(sub, bound) {
			return false
		}
	}

	for _, q := range s.specPairs() {
		if q.Sub == super {
			if !s.addSpecialization(sub, q.Super) {
				return false
			}
		}
	}

	if general := s.generalBound(super); general != nil {
		if !s.tightenGeneral(sub, general) {
			return false
		}
	}
	if specific := s.specificBound(super); specific != nil {
		if !s.tightenSpecific(sub, specific) {
			return false
		}
	}
	if specific := s.specificBound(sub); specific != nil {
		if !s.tightenSpecific(super, specific) {
			return false
		}
	}
	return true
}

// unify merges the class of tv into u.
func (s *state) unify(u UnifiedRef, tv TypeVariable) bool {
	other, known := s.refOf(tv)
	if !known {
		s.setUnification(tv, u)
		s.setGroup(u, append(slices.Clone(s.groupOf(u)), tv))
		return true
	}
	if other == u {
		return true
	}

	if bound := s.boundType(other); bound != nil {
		if !s.bind(u, bound) {
			return false
		}
	}
	if general := s.generalBound(other); general != nil {
		if !s.tightenGeneral(u, general) {
			return false
		}
	}
	if specific := s.specificBound(other); specific != nil {
		if !s.tightenSpecific(u, specific) {
			return false
		}
	}

	moved := s.groupOf(other)
	group := append(slices.Clone(s.groupOf(u)), moved...)
	for _, movedTv := range moved {
		s.setUnification(movedTv, u)
	}
	s.setGroup(u, group)
	s.setGroup(other, nil)

	// relationships of the cleared class carry over to u
	for _, q := range s.specPairs() {
		if q.Sub == other {
			if !s.addSpecialization(u, q.Super) {
				return false
			}
		}
		if q.Super == other {
			if !s.addSpecialization(q.Sub, u) {
				return false
			}
		}
	}
	return true
}

// --- commit and disjunction folding ---

func sortedEntries[K ~int, V any](m *immutable.Map[K, V]) []K {
	keys := make([]K, 0, m.Len())
	itr := m.Iterator()
	for !itr.Done() {
		k, _, _ := itr.Next()
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// commit merges this state's local layers into its parent. The parent's
// observable query results afterwards equal this state's.
func (s *state) commit() bool {
	parent := s.parent

	for _, q := range sortedSpecSlice(s.specializations.Slice()) {
		if !parent.hasSpecialization(q) {
			parent.specializations.Insert(q)
		}
	}
	for _, tv := range sortedEntries(s.unification) {
		u, _ := s.unification.Get(tv)
		parent.setUnification(tv, u)
	}
	for _, u := range sortedEntries(s.refGroups) {
		group, _ := s.refGroups.Get(u)
		parent.setGroup(u, group)
	}
	for _, u := range sortedEntries(s.boundTypes) {
		t, _ := s.boundTypes.Get(u)
		if !parent.bind(u, t) {
			return false
		}
	}
	for _, u := range sortedEntries(s.generalBounds) {
		t, _ := s.generalBounds.Get(u)
		if !parent.tightenGeneral(u, t) {
			return false
		}
	}
	for _, u := range sortedEntries(s.specificBounds) {
		t, _ := s.specificBounds.Get(u)
		if !parent.tightenSpecific(u, t) {
			return false
		}
	}
	return true
}

func sortedSpecSlice(pairs []specPair) []specPair {
	slices.SortFunc(pairs, func(a, b specPair) int {
		if a.Sub != b.Sub {
			return int(a.Sub) - int(b.Sub)
		}
		return int(a.Super) - int(b.Super)
	})
	return pairs
}

// mergeDisjunctionBranches folds the bound layers of the surviving branches
// into parent. A bound is kept only when every branch established it; its
// folded value is the join of the branch values. A bound present in only
// some branches is OR'd with "unconstrained" and therefore dropped.
// Unifications and specialization pairs made inside a single branch are
// likewise dropped: they do not hold disjunctively.
func mergeDisjunctionBranches(parent *state, branches []*state) bool {
	selectors := []struct {
		sel     boundSelector
		tighten func(*state, UnifiedRef, lattice.Type) bool
	}{
		{selectGeneralBounds, (*state).tightenGeneral},
		{selectSpecificBounds, (*state).tightenSpecific},
	}
	for _, selector := range selectors {
		first := selector.sel(branches[0])
		for _, u := range sortedEntries(first) {
			folded, _ := first.Get(u)
			presentInAll := true
			for _, branch := range branches[1:] {
				t, ok := selector.sel(branch).Get(u)
				if !ok {
					presentInAll = false
					break
				}
				folded = lattice.Join(folded, t)
			}
			if !presentInAll {
				continue
			}
			if !selector.tighten(parent, u, folded) {
				return false
			}
		}
	}
	return true
}

// dump renders the bounds table: `specific : <group> : general` per
// reference that has any bound.
func (s *state) dump(w io.Writer, refCount int) {
	for i := 0; i < refCount; i++ {
		u := UnifiedRef(i)
		general := s.generalBound(u)
		specific := s.specificBound(u)
		if general == nil && specific == nil {
			continue
		}
		fmt.Fprint(w, "  ")
		if specific != nil {
			fmt.Fprintf(w, "%s : ", specific)
		}
		fmt.Fprintf(w, "<%s>", groupString(s.groupOf(u)))
		if general != nil {
			fmt.Fprintf(w, " : %s", general)
		}
		fmt.Fprintln(w)
	}
}

func groupString(group []TypeVariable) string {
	out := ""
	for i, tv := range group {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%d", tv)
	}
	return out
}
