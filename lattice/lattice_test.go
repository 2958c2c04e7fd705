package lattice

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGeneralization(t *testing.T) {
	testCases := []struct {
		name     string
		lhs, rhs Type
		expected bool
	}{
		{"any generalizes everything", Any(), Signed(64), true},
		{"any generalizes pointers", Any(), PointerTo(Unsigned(8), 64), true},
		{"nothing generalizes any", Signed(0), Any(), false},
		{"narrower generalizes wider", Signed(8), Signed(64), true},
		{"wider does not generalize narrower", Signed(64), Signed(8), false},
		{"same width generalizes itself", Unsigned(16), Unsigned(16), true},
		{"integral generalizes signed of enough width", Integral(32), Signed(64), true},
		{"integral does not generalize narrower signed", Integral(32), Signed(8), false},
		{"signed does not generalize integral", Signed(8), Integral(32), false},
		{"signed does not generalize unsigned", Signed(8), Unsigned(32), false},
		{"integral generalizes pointer", Integral(0), Pointer(64), true},
		{"pointer does not generalize integral", Pointer(64), Integral(0), false},
		{"pointer generalizes data pointer", Pointer(64), PointerTo(Signed(32), 64), true},
		{"pointer generalizes code pointer", Pointer(64), FunctionPointer(64), true},
		{"unknown width is unbounded on the right", Integral(32), Integral(0), true},
		{"zero width is unbounded on the left", Integral(0), Integral(32), true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.lhs.IsGeneralizationOf(tc.rhs))
			// specialization is the mirror image
			assert.Equal(t, tc.expected, tc.rhs.IsSpecializationOf(tc.lhs))
		})
	}
}

func TestDataPointerCovariance(t *testing.T) {
	toNarrow := PointerTo(Signed(8), 64)
	toWide := PointerTo(Signed(32), 64)
	assert.True(t, toNarrow.IsGeneralizationOf(toWide))
	assert.False(t, toWide.IsGeneralizationOf(toNarrow))

	toUnsigned := PointerTo(Unsigned(8), 64)
	assert.False(t, toNarrow.IsGeneralizationOf(toUnsigned))
}

func TestCodePointerKinds(t *testing.T) {
	label := LabelPointer(64)
	function := FunctionPointer(64)
	assert.True(t, label.IsGeneralizationOf(function))
	assert.False(t, function.IsGeneralizationOf(label))
	assert.True(t, function.IsEqualTo(FunctionPointer(64)))
}

func TestEquality(t *testing.T) {
	assert.True(t, Signed(32).IsEqualTo(Signed(32)))
	assert.False(t, Signed(32).IsEqualTo(Unsigned(32)))
	assert.False(t, Signed(32).IsEqualTo(Signed(16)))
	// an unknown width compares unbounded on both sides
	assert.True(t, Integral(32).IsEqualTo(Integral(0)))
}

// every generalization pair that holds in both directions must be an
// equality
func TestSpecializationAntisymmetric(t *testing.T) {
	sample := []Type{
		Any(),
		Integral(0), Integral(8), Integral(32),
		Signed(8), Signed(32), Signed(64),
		Unsigned(1), Unsigned(8), Unsigned(32),
		Pointer(64),
		PointerTo(Signed(8), 64), PointerTo(Unsigned(32), 64),
		LabelPointer(64), FunctionPointer(64),
	}
	for _, a := range sample {
		for _, b := range sample {
			if a.IsGeneralizationOf(b) && b.IsGeneralizationOf(a) {
				assert.True(t, a.IsEqualTo(b), "%s and %s generalize each other but are not equal", a, b)
			}
		}
	}
}

func TestUnion(t *testing.T) {
	u := NewUnion(Signed(10), Unsigned(9))
	assert.True(t, u.IsGeneralizationOf(Signed(10)))
	assert.True(t, u.IsGeneralizationOf(Unsigned(9)))
	assert.False(t, u.IsGeneralizationOf(Signed(8)))
	assert.True(t, u.IsEqualTo(NewUnion(Unsigned(9), Signed(10))), "union equality is a multiset comparison")
	assert.False(t, u.IsEqualTo(NewUnion(Signed(10))))
	assert.False(t, u.IsEqualTo(NewIntersection(Signed(10), Unsigned(9))), "union and intersection never compare equal")
}

func TestIntersection(t *testing.T) {
	i := NewIntersection(Signed(10), Unsigned(9))
	assert.True(t, i.IsSpecializationOf(NewUnion(Signed(10), Unsigned(9), Pointer(64))))
	assert.True(t, i.IsEqualTo(NewIntersection(Unsigned(9), Signed(10))))
}

func TestJoin(t *testing.T) {
	t.Run("joining equal types is the identity", func(t *testing.T) {
		joined := Join(Pointer(64), Pointer(64))
		assert.True(t, joined.IsEqualTo(Pointer(64)))
		assert.Equal(t, CatPointer, joined.Category())
	})
	t.Run("joining distinct types builds a union", func(t *testing.T) {
		joined := Join(Signed(10), Unsigned(9))
		assert.True(t, joined.IsEqualTo(NewUnion(Signed(10), Unsigned(9))))
	})
	t.Run("unions flatten and dedupe", func(t *testing.T) {
		joined := Join(NewUnion(Signed(10), Unsigned(9)), Unsigned(9))
		assert.True(t, joined.IsEqualTo(NewUnion(Signed(10), Unsigned(9))))
	})
}

func TestCompatible(t *testing.T) {
	assert.False(t, Compatible(Unsigned(8), Pointer(64)), "a value cannot be both unsigned and a pointer")
	assert.False(t, Compatible(Signed(8), Unsigned(8)))
	assert.True(t, Compatible(Integral(0), Unsigned(8)))
	assert.True(t, Compatible(Pointer(64), Integral(64)))
	assert.True(t, Compatible(NewUnion(Signed(8)), Pointer(64)), "composites are accepted")
}

func TestPrinting(t *testing.T) {
	testCases := []struct {
		expected string
		typ      Type
	}{
		{"any", Any()},
		{"_int32", Integral(32)},
		{"sint8", Signed(8)},
		{"uint1", Boolean()},
		{"pint64", Pointer(64)},
		{"sint32*", PointerTo(Signed(32), 64)},
		{"funcptr", FunctionPointer(64)},
		{"labelptr", LabelPointer(64)},
		{"U(sint10, uint9)", NewUnion(Signed(10), Unsigned(9))},
		{"A(sint10, uint9)", NewIntersection(Signed(10), Unsigned(9))},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, tc.typ.String())
	}
}
