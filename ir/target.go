package ir

// Target describes the machine the function was lifted from, as far as the
// inference core cares: how wide a pointer is.
type Target interface {
	PointerWidth() int
}

// TargetDesc is a plain-data Target with a stable mapping from built-in
// names to widths.
type TargetDesc struct {
	Ident    string
	PtrWidth int
	Widths   map[string]int
}

var _ Target = TargetDesc{}

func (t TargetDesc) PointerWidth() int { return t.PtrWidth }

func (t TargetDesc) BuiltinWidth(name string) (int, bool) {
	w, ok := t.Widths[name]
	return w, ok
}

var AMD64 = TargetDesc{
	Ident:    "amd64",
	PtrWidth: 64,
	Widths: map[string]int{
		"byte":  8,
		"word":  16,
		"dword": 32,
		"qword": 64,
	},
}

var I386 = TargetDesc{
	Ident:    "i386",
	PtrWidth: 32,
	Widths: map[string]int{
		"byte":  8,
		"word":  16,
		"dword": 32,
	},
}
