package scan

import (
	"sort"

	"mxversions/internal/federation"
)

// Entry is one row of a Table.
type Entry struct {
	Version string
	Count   int
}

// Table counts how many domains reported each version string. Domains
// without a version never appear.
type Table struct {
	entries []Entry // first-seen order
	index   map[string]int
}

func NewTable() *Table {
	return &Table{index: make(map[string]int)}
}

// Fold builds a Table from probe results in order, skipping failures.
func Fold(results []federation.Result) *Table {
	t := NewTable()
	for _, r := range results {
		if r.OK() {
			t.Add(r.Version)
		}
	}
	return t
}

func (t *Table) Add(version string) {
	if i, ok := t.index[version]; ok {
		t.entries[i].Count++
		return
	}
	t.index[version] = len(t.entries)
	t.entries = append(t.entries, Entry{Version: version, Count: 1})
}

// Count returns the number of domains reporting version.
func (t *Table) Count(version string) int {
	if i, ok := t.index[version]; ok {
		return t.entries[i].Count
	}
	return 0
}

// Len is the number of distinct versions.
func (t *Table) Len() int { return len(t.entries) }

// Total is the number of domains that reported any version.
func (t *Table) Total() int {
	n := 0
	for _, e := range t.entries {
		n += e.Count
	}
	return n
}

// Entries returns rows by descending count; equal counts keep first-seen
// order.
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Count > out[j].Count
	})
	return out
}

// Top returns at most n rows of Entries.
func (t *Table) Top(n int) []Entry {
	e := t.Entries()
	if n >= 0 && n < len(e) {
		e = e[:n]
	}
	return e
}
