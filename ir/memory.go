package ir

// MemoryDefKind classifies the answer a MemoryOracle gives for a load: the
// unique store whose effect the load observes, an intervening call that
// clobbered memory, or nothing within the function.
type MemoryDefKind uint8

const (
	DefLiveOnEntry MemoryDefKind = iota
	DefStore
	DefCall
)

type MemoryDef struct {
	Kind MemoryDefKind
	// Access is the defining instruction for DefStore and DefCall.
	Access *Instr
}

// MemoryOracle answers, for every memory-reading instruction, which
// memory-writing instruction it observes. Implementations come from the
// surrounding memory-SSA pass; StoreOracle is a stand-in for tests and the
// CLI.
type MemoryOracle interface {
	DefiningAccess(load *Instr) MemoryDef
}

// StoreOracle is a block-local oracle: within each block it tracks the most
// recent store per address value, treats calls as clobbering everything,
// and answers live-on-entry at block boundaries.
type StoreOracle struct {
	defs map[*Instr]MemoryDef
}

var _ MemoryOracle = (*StoreOracle)(nil)

func NewStoreOracle(fn *Function) *StoreOracle {
	oracle := &StoreOracle{defs: make(map[*Instr]MemoryDef)}
	for _, block := range fn.Blocks {
		lastStore := make(map[Value]*Instr)
		var lastCall *Instr
		for _, inst := range block.Instrs {
			switch inst.Op {
			case OpStore:
				lastStore[inst.PointerOperand()] = inst
			case OpCall:
				lastCall = inst
				lastStore = make(map[Value]*Instr)
			case OpLoad:
				if store, ok := lastStore[inst.PointerOperand()]; ok {
					oracle.defs[inst] = MemoryDef{Kind: DefStore, Access: store}
				} else if lastCall != nil {
					oracle.defs[inst] = MemoryDef{Kind: DefCall, Access: lastCall}
				}
			}
		}
	}
	return oracle
}

// SetDefiningAccess overrides the answer for one load.
func (o *StoreOracle) SetDefiningAccess(load *Instr, def MemoryDef) {
	o.defs[load] = def
}

func (o *StoreOracle) DefiningAccess(load *Instr) MemoryDef {
	if def, ok := o.defs[load]; ok {
		return def
	}
	return MemoryDef{Kind: DefLiveOnEntry}
}
