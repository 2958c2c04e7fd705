package lattice

import "strings"

// composite is the shared representation of unions and intersections: a
// multiset of member types. Composites only arise inside the solver, when
// the surviving branches of a case analysis are folded together.
type composite struct {
	elems []Type
}

func (c composite) types() []Type { return c.elems }

// isSubsetOf reports whether every member of c has an equal member in that's
// type-set (that itself when that is not a composite).
func (c composite) isSubsetOf(that Type) bool {
	if comp, ok := that.(interface{ types() []Type }); ok {
		return allIn(c.elems, comp.types())
	}
	return len(c.elems) == 1 && c.elems[0].IsEqualTo(that)
}

// isSupersetOf reports whether every member of that's type-set has an equal
// member in c.
func (c composite) isSupersetOf(that Type) bool {
	if comp, ok := that.(interface{ types() []Type }); ok {
		return allIn(comp.types(), c.elems)
	}
	for _, t := range c.elems {
		if t.IsEqualTo(that) {
			return true
		}
	}
	return false
}

func allIn(sub, super []Type) bool {
	for _, s := range sub {
		found := false
		for _, t := range super {
			if s.IsEqualTo(t) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (c composite) hash() uint64 {
	// order-independent so that equal multisets hash alike
	var h uint64 = 2166136261
	for _, t := range c.elems {
		h += t.Hash() * 16777619
	}
	return h
}

func (c composite) joinString(glyph string) string {
	var sb strings.Builder
	sb.WriteString(glyph)
	sb.WriteByte('(')
	for i, t := range c.elems {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(t.String())
	}
	sb.WriteByte(')')
	return sb.String()
}

// Union is a join of its members: it generalizes a type when that type's
// whole type-set appears among the members.
type Union struct {
	composite
}

func NewUnion(elems ...Type) Type {
	return Union{composite{elems: elems}}
}

func (t Union) Category() Category { return CatUnion }

func (t Union) IsGeneralizationOf(other Type) bool { return t.isSupersetOf(other) }
func (t Union) IsSpecializationOf(other Type) bool { return t.isSubsetOf(other) }
func (t Union) IsEqualTo(other Type) bool {
	that, ok := other.(Union)
	if !ok {
		return false
	}
	return len(t.elems) == len(that.elems) && t.isSubsetOf(that)
}

func (t Union) Hash() uint64   { return 9973 ^ t.hash() }
func (t Union) String() string { return t.joinString("U") }

// Intersection is a meet of its members.
type Intersection struct {
	composite
}

func NewIntersection(elems ...Type) Type {
	return Intersection{composite{elems: elems}}
}

func (t Intersection) Category() Category { return CatIntersection }

func (t Intersection) IsGeneralizationOf(other Type) bool { return t.isSubsetOf(other) }
func (t Intersection) IsSpecializationOf(other Type) bool {
	if u, ok := other.(Union); ok {
		// mirror the union's own generalization check
		return u.IsGeneralizationOf(t)
	}
	return t.isSupersetOf(other)
}
func (t Intersection) IsEqualTo(other Type) bool {
	that, ok := other.(Intersection)
	if !ok {
		return false
	}
	return len(t.elems) == len(that.elems) && t.isSubsetOf(that)
}

func (t Intersection) Hash() uint64   { return 10007 ^ t.hash() }
func (t Intersection) String() string { return t.joinString("A") }

// Join returns the smallest union containing both arguments. Unions are
// flattened and duplicate members collapse, so joining a type with itself
// returns the type unchanged.
func Join(a, b Type) Type {
	var elems []Type
	add := func(t Type) {
		for _, existing := range elems {
			if existing.IsEqualTo(t) {
				return
			}
		}
		elems = append(elems, t)
	}
	for _, t := range flatten(a) {
		add(t)
	}
	for _, t := range flatten(b) {
		add(t)
	}
	if len(elems) == 1 {
		return elems[0]
	}
	return NewUnion(elems...)
}

func flatten(t Type) []Type {
	if u, ok := t.(Union); ok {
		return u.elems
	}
	return []Type{t}
}
