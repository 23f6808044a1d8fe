package vm

import "fmt"

// NativeFn is a host function callable from script code
type NativeFn func(vm *VM, args []Value) (Value, error)

// Closure is a callable runtime value. It comes in two variants: script
// closures bind a Proto to a captured upvalue environment; native closures
// hold an opaque host function and expose no introspectable internals.
type Closure struct {
	Proto    *Proto
	Upvalues []*Upvalue

	// native is set for host-function closures; Proto is nil in that case
	native NativeFn
	name   string
}

// NewClosure is the closure-construction primitive: it binds a template
// plus an upvalue environment into a callable closure. The environment
// slice is truncated or nil-padded to the proto's declared upvalue count.
func NewClosure(p *Proto, upvalues []*Upvalue) *Closure {
	ups := make([]*Upvalue, p.UpvalueCount)
	copy(ups, upvalues)
	return &Closure{Proto: p, Upvalues: ups}
}

// NewNativeClosure wraps a host function as a callable closure
func NewNativeClosure(name string, fn NativeFn) *Closure {
	return &Closure{native: fn, name: name}
}

// IsNative reports whether this is an opaque host-function closure
func (c *Closure) IsNative() bool {
	return c.Proto == nil
}

// Name returns the closure's diagnostic name
func (c *Closure) Name() string {
	if c.IsNative() {
		return c.name
	}
	if c.Proto.Name != "" {
		return c.Proto.Name
	}
	return "<anonymous>"
}

func (c *Closure) Inspect() string {
	if c.IsNative() {
		return fmt.Sprintf("<native %s>", c.name)
	}
	return fmt.Sprintf("<function %s>", c.Name())
}

// Upvalue represents a captured variable from an enclosing scope.
// It can be "open" (pointing to a stack slot) or "closed" (holding the
// value directly after the slot left the stack).
type Upvalue struct {
	// When open: Location is the stack slot index
	// When closed: Location is -1 and Closed holds the value
	Location int
	Closed   Value

	// For the VM's open upvalue list (singly linked, sorted by location)
	Next *Upvalue
}

// NewClosedUpvalue returns an upvalue already detached from the stack
func NewClosedUpvalue(v Value) *Upvalue {
	return &Upvalue{Location: -1, Closed: v}
}
