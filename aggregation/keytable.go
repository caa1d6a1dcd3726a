package aggregation

// KeyTable assigns stable indexes to strings in first-seen order. It backs
// the partition key and explicit hash key tables of an aggregated record.
//
// A KeyTable is owned by a single AggRecord and is not safe for concurrent use.
type KeyTable struct {
	keys  []string
	index map[string]uint64
}

func NewKeyTable() *KeyTable {
	return &KeyTable{index: make(map[string]uint64)}
}

// Intern returns the index of key, appending it to the table if it is not
// already present.
func (t *KeyTable) Intern(key string) uint64 {
	if i, ok := t.index[key]; ok {
		return i
	}
	i := uint64(len(t.keys))
	t.keys = append(t.keys, key)
	t.index[key] = i
	return i
}

// Lookup returns the index of key without modifying the table.
func (t *KeyTable) Lookup(key string) (uint64, bool) {
	i, ok := t.index[key]
	return i, ok
}

// Len returns the number of distinct keys in the table.
func (t *KeyTable) Len() int {
	return len(t.keys)
}

// Keys returns a copy of the keys in insertion order.
func (t *KeyTable) Keys() []string {
	out := make([]string, len(t.keys))
	copy(out, t.keys)
	return out
}
