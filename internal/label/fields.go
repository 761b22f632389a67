package label

// Fields is an insertion-ordered, multi-valued field map.
type Fields struct {
	names  []string
	values map[string][]string
}

// NewFields creates an empty map.
func NewFields() *Fields {
	return &Fields{values: make(map[string][]string)}
}

// Add appends a value to name.
func (f *Fields) Add(name, value string) {
	if _, ok := f.values[name]; !ok {
		f.names = append(f.names, name)
	}
	f.values[name] = append(f.values[name], value)
}

// Names returns field names in first-seen order.
func (f *Fields) Names() []string { return f.names }

// Values returns the values of name.
func (f *Fields) Values(name string) []string { return f.values[name] }

// First returns the first value of name, or "".
func (f *Fields) First(name string) string {
	if v := f.values[name]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Len returns the number of distinct names.
func (f *Fields) Len() int { return len(f.names) }
