// Package symbols implements the assembler symbol table: a case-folding map
// from possibly-namespaced identifiers to scalar, string or list values.
package symbols

import (
	"fmt"
	"sort"
	"strings"
)

// ValueKind discriminates the value variants a symbol can hold
type ValueKind uint8

const (
	ValueInt ValueKind = iota
	ValueFloat
	ValueString
	ValueAddress
	ValueList
	ValueCharSet
)

// Value is the result of an expression evaluation or the payload of a
// symbol. An Address carries the bank it was defined in so bank-prefixed
// expressions can recover it.
type Value struct {
	Kind    ValueKind
	Int     int64
	Float   float64
	Str     string
	Bank    int
	List    []Value
	CharSet map[byte]byte
}

func IntValue(v int64) Value      { return Value{Kind: ValueInt, Int: v} }
func FloatValue(v float64) Value  { return Value{Kind: ValueFloat, Float: v} }
func StringValue(s string) Value  { return Value{Kind: ValueString, Str: s} }
func AddressValue(bank int, offset int64) Value {
	return Value{Kind: ValueAddress, Int: offset, Bank: bank}
}
func ListValue(vs []Value) Value { return Value{Kind: ValueList, List: vs} }

// AsInt narrows the value to an integer. Addresses narrow to their offset,
// floats truncate.
func (v Value) AsInt() (int64, error) {
	switch v.Kind {
	case ValueInt, ValueAddress:
		return v.Int, nil
	case ValueFloat:
		return int64(v.Float), nil
	}
	return 0, fmt.Errorf("%w: got %s", ErrExpectedInteger, v.Kind)
}

// AsFloat widens the value to a float
func (v Value) AsFloat() (float64, error) {
	switch v.Kind {
	case ValueInt, ValueAddress:
		return float64(v.Int), nil
	case ValueFloat:
		return v.Float, nil
	}
	return 0, fmt.Errorf("%w: got %s", ErrTypeMismatch, v.Kind)
}

// Bool reports the truthiness of the value (non-zero / non-empty)
func (v Value) Bool() bool {
	switch v.Kind {
	case ValueInt, ValueAddress:
		return v.Int != 0
	case ValueFloat:
		return v.Float != 0
	case ValueString:
		return v.Str != ""
	case ValueList:
		return len(v.List) > 0
	}
	return false
}

// Equal reports bit-pattern equality, the relation used by the pass
// stability check.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case ValueInt:
		return v.Int == o.Int
	case ValueAddress:
		return v.Int == o.Int && v.Bank == o.Bank
	case ValueFloat:
		return v.Float == o.Float
	case ValueString:
		return v.Str == o.Str
	case ValueList:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(o.List[i]) {
				return false
			}
		}
		return true
	case ValueCharSet:
		if len(v.CharSet) != len(o.CharSet) {
			return false
		}
		for k, b := range v.CharSet {
			if o.CharSet[k] != b {
				return false
			}
		}
		return true
	}
	return false
}

func (v Value) String() string {
	switch v.Kind {
	case ValueInt:
		return fmt.Sprintf("%d", v.Int)
	case ValueAddress:
		return fmt.Sprintf("0x%04X", uint16(v.Int))
	case ValueFloat:
		return fmt.Sprintf("%g", v.Float)
	case ValueString:
		return v.Str
	case ValueList:
		parts := make([]string, len(v.List))
		for i, e := range v.List {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ",") + "]"
	}
	return "?"
}

func (k ValueKind) String() string {
	names := [...]string{"integer", "float", "string", "address", "list", "charset"}
	if int(k) < len(names) {
		return names[k]
	}
	return "?"
}

type entry struct {
	value    Value
	defined  bool
	exported bool
	used     bool
}

// Table maps symbols to values. Lookups fold case unless the table was
// created case-sensitive. Module scopes prefix new definitions with
// "module." paths; lookups try the innermost scope first.
type Table struct {
	caseSensitive bool
	entries       map[string]*entry
	modules       []string
}

// NewTable creates an empty symbol table
func NewTable(caseSensitive bool) *Table {
	return &Table{
		caseSensitive: caseSensitive,
		entries:       make(map[string]*entry),
	}
}

func (t *Table) fold(name string) string {
	if t.caseSensitive {
		return name
	}
	return strings.ToUpper(name)
}

// qualify returns the full symbol path for a new definition in the current
// module scope.
func (t *Table) qualify(name string) string {
	if len(t.modules) == 0 || strings.Contains(name, ".") && name[0] != '.' {
		return name
	}
	return strings.Join(t.modules, ".") + "." + name
}

// PushModule opens a namespace scope
func (t *Table) PushModule(name string) { t.modules = append(t.modules, name) }

// PopModule closes the innermost namespace scope
func (t *Table) PopModule() {
	if len(t.modules) > 0 {
		t.modules = t.modules[:len(t.modules)-1]
	}
}

// CurrentModule returns the dotted path of the open module scopes
func (t *Table) CurrentModule() string { return strings.Join(t.modules, ".") }

// Define sets a symbol that must not already exist
func (t *Table) Define(name string, v Value) error {
	key := t.fold(t.qualify(name))
	if e, ok := t.entries[key]; ok && e.defined {
		return fmt.Errorf("%w: %s", ErrAlreadyDefined, name)
	} else if ok {
		e.value, e.defined = v, true
		return nil
	}
	t.entries[key] = &entry{value: v, defined: true}
	return nil
}

// Set assigns a symbol, creating it when missing
func (t *Table) Set(name string, v Value) {
	key := t.lookupKey(name)
	if e, ok := t.entries[key]; ok {
		e.value, e.defined = v, true
		return
	}
	t.entries[t.fold(t.qualify(name))] = &entry{value: v, defined: true}
}

// lookupKey resolves name against the open module scopes, innermost first,
// then the global scope. Returns the key of the existing entry, or the
// global-scope key when the symbol does not exist.
func (t *Table) lookupKey(name string) string {
	for i := len(t.modules); i > 0; i-- {
		key := t.fold(strings.Join(t.modules[:i], ".") + "." + name)
		if _, ok := t.entries[key]; ok {
			return key
		}
	}
	return t.fold(name)
}

// Get returns the value of a symbol
func (t *Table) Get(name string) (Value, error) {
	if e, ok := t.entries[t.lookupKey(name)]; ok && e.defined {
		return e.value, nil
	}
	return Value{}, fmt.Errorf("%w: %s", ErrUnknown, name)
}

// Exists reports whether the symbol is defined
func (t *Table) Exists(name string) bool {
	e, ok := t.entries[t.lookupKey(name)]
	return ok && e.defined
}

// Remove deletes a symbol (UNDEF). Removing a missing symbol is a no-op.
func (t *Table) Remove(name string) {
	delete(t.entries, t.lookupKey(name))
}

// MarkUsed records that an evaluated expression referenced the symbol. The
// mark persists even when the symbol is defined later.
func (t *Table) MarkUsed(name string) {
	key := t.lookupKey(name)
	if e, ok := t.entries[key]; ok {
		e.used = true
		return
	}
	t.entries[key] = &entry{used: true}
}

// IsUsed reports whether the symbol was referenced at least once
func (t *Table) IsUsed(name string) bool {
	if e, ok := t.entries[t.lookupKey(name)]; ok {
		return e.used
	}
	return false
}

// IsDefined reports whether the symbol exists with a value assigned
func (t *Table) IsDefined(name string) bool {
	e, ok := t.entries[t.lookupKey(name)]
	return ok && e.defined
}

// Export flags a symbol for the SYMB snapshot chunk / symbol file
func (t *Table) Export(name string) {
	if e, ok := t.entries[t.lookupKey(name)]; ok {
		e.exported = true
	}
}

// Names returns the sorted list of defined symbol names
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.entries))
	for k, e := range t.entries {
		if e.defined {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

// Snapshot copies the name→value map, used by the multi-pass driver to
// detect instability between passes.
func (t *Table) Snapshot() map[string]Value {
	snap := make(map[string]Value, len(t.entries))
	for k, e := range t.entries {
		if e.defined {
			snap[k] = e.value
		}
	}
	return snap
}

// Diff returns the names whose values differ between this table and a prior
// snapshot, including names present on only one side.
func (t *Table) Diff(prior map[string]Value) []string {
	var changed []string
	for k, e := range t.entries {
		if !e.defined {
			continue
		}
		old, ok := prior[k]
		if !ok || !old.Equal(e.value) {
			changed = append(changed, k)
		}
	}
	for k := range prior {
		if e, ok := t.entries[k]; !ok || !e.defined {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}
