package interfaces

import (
	"fmt"
	"sync"
)

// SymbolTable is the bidirectional mapping between canonical BASE-QUOTE
// symbols and one exchange's native pair spellings. It is built once from
// the exchange's instrument listing at connector startup and never
// recomputed per request. The mapping is a bijection; lookups fail loudly
// on unknown symbols instead of passing the input through.
type SymbolTable struct {
	mu          sync.RWMutex
	toNative    map[Symbol]string
	toCanonical map[string]Symbol
	specs       map[Symbol]PairSpec
}

// NewSymbolTable builds a table from canonical→native pairs and their specs.
// Returns an error if the mapping is not a bijection.
func NewSymbolTable(pairs map[Symbol]string, specs []PairSpec) (*SymbolTable, error) {
	t := &SymbolTable{
		toNative:    make(map[Symbol]string, len(pairs)),
		toCanonical: make(map[string]Symbol, len(pairs)),
		specs:       make(map[Symbol]PairSpec, len(specs)),
	}
	for canonical, native := range pairs {
		if canonical == "" || native == "" {
			return nil, fmt.Errorf("empty symbol in pair table (%q -> %q)", canonical, native)
		}
		if prev, dup := t.toCanonical[native]; dup {
			return nil, fmt.Errorf("pair table not a bijection: native %q maps to both %q and %q", native, prev, canonical)
		}
		t.toNative[canonical] = native
		t.toCanonical[native] = canonical
	}
	for _, spec := range specs {
		if _, known := t.toNative[spec.Symbol]; !known {
			return nil, fmt.Errorf("spec for unmapped symbol %q", spec.Symbol)
		}
		t.specs[spec.Symbol] = spec
	}
	return t, nil
}

// ToNative translates a canonical symbol to the exchange spelling.
func (t *SymbolTable) ToNative(symbol Symbol) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	native, ok := t.toNative[symbol]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrInvalidSymbol, symbol)
	}
	return native, nil
}

// ToCanonical translates an exchange spelling to the canonical symbol.
func (t *SymbolTable) ToCanonical(native string) (Symbol, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	canonical, ok := t.toCanonical[native]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrInvalidSymbol, native)
	}
	return canonical, nil
}

// Spec returns the immutable pair metadata for a canonical symbol.
func (t *SymbolTable) Spec(symbol Symbol) (PairSpec, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	spec, ok := t.specs[symbol]
	if !ok {
		return PairSpec{}, fmt.Errorf("%w: %s", ErrInvalidSymbol, symbol)
	}
	return spec, nil
}

// Symbols returns every canonical symbol known to the table.
func (t *SymbolTable) Symbols() []Symbol {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Symbol, 0, len(t.toNative))
	for s := range t.toNative {
		out = append(out, s)
	}
	return out
}
