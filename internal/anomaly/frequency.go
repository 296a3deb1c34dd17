package anomaly

// DefaultUnseenFrequency is returned for addresses absent from the training data
const DefaultUnseenFrequency = 0.0001

// FrequencyTable maps a network address to its relative frequency in the
// training data. It is immutable after construction.
type FrequencyTable struct {
	frequencies map[string]float64
	unseen      float64
}

// NewFrequencyTable copies the given frequencies. A non-positive unseen value
// falls back to DefaultUnseenFrequency so unknown addresses never score 0.
func NewFrequencyTable(frequencies map[string]float64, unseen float64) *FrequencyTable {
	if unseen <= 0 || Missing(unseen) {
		unseen = DefaultUnseenFrequency
	}

	copied := make(map[string]float64, len(frequencies))
	for addr, f := range frequencies {
		copied[addr] = f
	}

	return &FrequencyTable{frequencies: copied, unseen: unseen}
}

// Lookup returns the frequency of address, or the unseen frequency
func (t *FrequencyTable) Lookup(address string) float64 {
	if t == nil {
		return DefaultUnseenFrequency
	}
	if f, ok := t.frequencies[address]; ok {
		return f
	}
	return t.unseen
}

// Len returns the number of known addresses
func (t *FrequencyTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.frequencies)
}
