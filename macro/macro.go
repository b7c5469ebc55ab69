// Package macro implements the case-insensitive abbreviation table used to
// resolve BibTeX "@string" macros (spec §4.4).
package macro

// binding is the bytes a name resolves to plus whether those bytes were
// materialized into a fresh buffer (owned) or still alias some caller's
// source buffer (borrowed) — tracked so a lookup that resolves to a single
// macro reference can tag its Value correctly rather than always claiming
// Borrowed (spec §9 "Borrowed-vs-owned values").
type binding struct {
	data  []byte
	owned bool
}

// Table is a case-insensitive mapping from abbreviation name to its
// resolved byte sequence. Keys fold ASCII letters only; non-ASCII bytes
// compare by value, matching historical BibTeX identifier comparison
// (spec §4.4, §9 "Case-insensitive identifiers over bytes").
//
// A Table is built left-to-right as "@string" entries are seen: a later
// binding for the same folded name replaces an earlier one, and the table
// is never retroactively mutated or snapshotted (spec §3 "Macro table").
// It is not safe for concurrent use; each Decoder owns one exclusively
// (spec §5).
type Table struct {
	entries map[string]binding
}

// New returns an empty Table.
func New() *Table {
	return &Table{entries: make(map[string]binding, 16)}
}

// NewSeeded returns a Table pre-populated from seed, as if each entry had
// been bound by an "@string" declaration in the order map iteration visits
// them. Since Go map iteration order is unspecified, seed entries should
// not depend on one another. Seed values never alias a Decoder's source
// buffer, so they are recorded as owned.
func NewSeeded(seed map[string][]byte) *Table {
	t := New()
	for name, value := range seed {
		t.Set([]byte(name), value, true)
	}
	return t
}

// Set binds name to value, overriding any earlier binding with the same
// folded name. value is retained by reference, not copied. owned reports
// whether value was freshly materialized (true) or still aliases a
// Decoder's source buffer (false); callers seeding bindings from outside
// any Decoder's input (e.g. WithMacros) should always pass true, since
// such bytes never alias that Decoder's buffer.
func (t *Table) Set(name, value []byte, owned bool) {
	t.entries[Fold(name)] = binding{data: value, owned: owned}
}

// Lookup returns the bytes bound to name, whether those bytes are owned
// (as opposed to borrowed from a source buffer), and whether a binding
// exists at all.
func (t *Table) Lookup(name []byte) (data []byte, owned bool, ok bool) {
	b, ok := t.entries[Fold(name)]
	return b.data, b.owned, ok
}

// Len returns the number of distinct bindings in the table.
func (t *Table) Len() int { return len(t.entries) }

// Fold returns the case-insensitive comparison key for name: ASCII letters
// are lowercased, every other byte (including non-ASCII UTF-8 continuation
// bytes) passes through unchanged. This deliberately avoids unicode.ToLower
// or any locale-sensitive folding (spec §9).
func Fold(name []byte) string {
	buf := make([]byte, len(name))
	for i, c := range name {
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		buf[i] = c
	}
	return string(buf)
}

// Months returns the twelve standard BibTeX month abbreviations (jan...dec)
// bound to themselves, the preset callers most commonly seed a Table with
// (spec §3, "optionally seeded with caller-supplied bindings, e.g. the
// twelve month abbreviations").
func Months() map[string][]byte {
	names := []string{
		"jan", "feb", "mar", "apr", "may", "jun",
		"jul", "aug", "sep", "oct", "nov", "dec",
	}
	m := make(map[string][]byte, len(names))
	for _, n := range names {
		m[n] = []byte(n)
	}
	return m
}
