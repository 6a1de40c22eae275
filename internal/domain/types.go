package domain

// Metadata is an unstructured metadata container for domain entities.
type Metadata map[string]any

func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	copy := make(Metadata, len(m))
	for k, v := range m {
		copy[k] = v
	}
	return copy
}

// Merge overlays other onto a clone of m and returns the result. Keys in
// other win.
func (m Metadata) Merge(other Metadata) Metadata {
	merged := m.Clone()
	for k, v := range other {
		merged[k] = v
	}
	return merged
}
