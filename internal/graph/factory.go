package graph

import "fmt"

// FilterCtor builds a Filter given its Host and an opaque, plugin-specific
// config value. The framework enforces a non-nil host before calling ctor;
// enforcing a non-nil config is the ctor's own responsibility since each
// plugin's config shape differs.
type FilterCtor func(host Host, config any) (Filter, error)

// Factory is a string-keyed registry of filter constructors, letting a
// Pipeline be built declaratively by name (e.g. from YAML) rather than by
// direct Go construction, with named plugins such as "MPEG_DASH",
// "TimeRectifier", "TsDemuxer", or "HTTP".
type Factory struct {
	ctors map[string]FilterCtor
}

// NewFactory creates an empty Factory.
func NewFactory() *Factory {
	return &Factory{ctors: make(map[string]FilterCtor)}
}

// Register adds a named constructor. Re-registering the same name overwrites
// the previous constructor, matching a typical init()-time plugin registry.
func (f *Factory) Register(kind string, ctor FilterCtor) {
	f.ctors[kind] = ctor
}

// New instantiates a filter of the given registered kind.
func (f *Factory) New(kind string, host Host, config any) (Filter, error) {
	if host == nil {
		return nil, fmt.Errorf("graph: factory.New(%q): host must not be nil", kind)
	}
	ctor, ok := f.ctors[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrFilterNotFound, kind)
	}
	return ctor(host, config)
}

// AddFromFactory is sugar combining Pipeline.Add with a Factory lookup: it
// instantiates the named filter kind under the given instance name.
func (p *Pipeline) AddFromFactory(factory *Factory, name, kind string, config any) (Filter, error) {
	return p.Add(name, func(host Host) (Filter, error) {
		return factory.New(kind, host, config)
	})
}
