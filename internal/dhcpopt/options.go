package dhcpopt

import (
	"maps"
	"slices"
)

// Options is a set of options keyed by code.  A message carries at most one
// option for each code.
type Options map[Code]Option

// Get returns the option with code c or nil if there is none.
func (o Options) Get(c Code) (opt Option) { return o[c] }

// Has returns true if o contains an option with code c.
func (o Options) Has(c Code) (ok bool) {
	_, ok = o[c]

	return ok
}

// Set adds opt to o replacing any option with the same code.
func (o Options) Set(opt Option) { o[opt.Code()] = opt }

// Del removes the option with code c from o.
func (o Options) Del(c Code) { delete(o, c) }

// Codes returns the codes of o in ascending order.
func (o Options) Codes() (codes []Code) { return slices.Sorted(maps.Keys(o)) }

// Clone returns a shallow copy of o.  The options themselves are shared and
// must not be modified.
func (o Options) Clone() (clone Options) {
	if o == nil {
		return Options{}
	}

	return maps.Clone(o)
}

// Opaque returns the data of the opaque option with code c.  ok is false if
// there is no such option or it is not opaque.
func (o Options) Opaque(c Code) (data []byte, ok bool) {
	opt, ok := o[c].(*Opaque)
	if !ok {
		return nil, false
	}

	return opt.Value, true
}
