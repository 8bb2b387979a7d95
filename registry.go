package tabexport

import "fmt"

// Registry maps format identifiers to encoders, preserving registration order.
// A Registry is not safe for concurrent mutation; build it once and share it
// read-only.
type Registry struct {
	order    []string
	encoders map[string]Encoder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{encoders: make(map[string]Encoder)}
}

// NewDefaultRegistry registers the built-in encoders enabled in s, in the
// order of [Formats]. A nil pdf renderer falls back to HTML output.
func NewDefaultRegistry(s Settings, pdf PDFRenderer) *Registry {
	r := NewRegistry()
	for _, id := range Formats() {
		if !s.Enabled(id) {
			continue
		}
		switch id {
		case CSV:
			r.Register(NewCSVEncoder(s))
		case Excel:
			r.Register(NewExcelEncoder(s))
		case JSON:
			r.Register(NewJSONEncoder(s))
		case XML:
			r.Register(NewXMLEncoder(s))
		case PDF:
			r.Register(NewPDFEncoder(s, pdf))
		case HTML:
			r.Register(NewHTMLEncoder(s))
		}
	}
	return r
}

// Register adds enc. It returns false and leaves the registry unchanged when
// an encoder with the same format id is already present.
func (r *Registry) Register(enc Encoder) bool {
	id := enc.Descriptor().ID
	if _, ok := r.encoders[id]; ok {
		return false
	}
	r.encoders[id] = enc
	r.order = append(r.order, id)
	return true
}

// Unregister removes the encoder for id and reports whether it was present.
func (r *Registry) Unregister(id string) bool {
	if _, ok := r.encoders[id]; !ok {
		return false
	}
	delete(r.encoders, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns the encoder for id.
func (r *Registry) Get(id string) (Encoder, bool) {
	enc, ok := r.encoders[id]
	return enc, ok
}

// Lookup is Get with an [ErrUnknownFormat] error for missing ids.
func (r *Registry) Lookup(id string) (Encoder, error) {
	enc, ok := r.encoders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, id)
	}
	return enc, nil
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.encoders[id]
	return ok
}

// IDs returns the registered format ids in registration order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Describe returns the descriptors of all registered encoders in
// registration order.
func (r *Registry) Describe() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.encoders[id].Descriptor())
	}
	return out
}

// Choices returns id/display-name pairs for format pickers.
func (r *Registry) Choices() []Choice {
	out := make([]Choice, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, Choice{Value: id, Label: r.encoders[id].Descriptor().Name})
	}
	return out
}
