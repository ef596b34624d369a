// Package discovery reconstructs when each report number was first observed
// by folding the committed history of the monthly snapshots.
package discovery

import (
	"github.com/sells-group/hazmat-radar/internal/model"
)

// Table is an insertion-ordered set of discovery records keyed by report
// number. Add never overwrites an existing key.
type Table struct {
	index   map[model.Key]int
	records []model.Discovery
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{index: make(map[model.Key]int)}
}

// TableOf builds a table from records in order, first occurrence winning.
func TableOf(records ...model.Discovery) *Table {
	t := NewTable()
	for _, r := range records {
		t.Add(r)
	}
	return t
}

// Add inserts d unless its key is already present. Reports whether d was inserted.
func (t *Table) Add(d model.Discovery) bool {
	if _, ok := t.index[d.ReportNumber]; ok {
		return false
	}
	t.index[d.ReportNumber] = len(t.records)
	t.records = append(t.records, d)
	return true
}

// Get returns the record for key.
func (t *Table) Get(key model.Key) (model.Discovery, bool) {
	i, ok := t.index[key]
	if !ok {
		return model.Discovery{}, false
	}
	return t.records[i], true
}

// Has reports whether key is present.
func (t *Table) Has(key model.Key) bool {
	_, ok := t.index[key]
	return ok
}

// Len returns the number of records.
func (t *Table) Len() int {
	return len(t.records)
}

// Records returns a copy of the records in insertion order.
func (t *Table) Records() []model.Discovery {
	out := make([]model.Discovery, len(t.records))
	copy(out, t.records)
	return out
}

// Merge deduplicates several tables by report number. The earliest
// timestamp wins; on a tie the record from the earlier table is kept.
// A key keeps the position of its first appearance.
func Merge(tables ...*Table) *Table {
	out := NewTable()
	for _, t := range tables {
		if t == nil {
			continue
		}
		for _, r := range t.records {
			i, ok := out.index[r.ReportNumber]
			if !ok {
				out.Add(r)
				continue
			}
			if r.Earlier(out.records[i]) {
				out.records[i] = r
			}
		}
	}
	return out
}
