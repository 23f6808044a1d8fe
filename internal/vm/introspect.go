package vm

// Debug introspection accessors. These expose function internals (constant
// pools, nested function templates, live call-frame registers) for debugger
// tooling, in the style of Roblox script debuggers.
//
// All accessors follow a fail-soft contract: they report success with a
// boolean (or a count of 0) instead of returning errors. Reads push exactly
// one value on success and nothing on failure. Writes consume exactly one
// staged input value whenever one is present, on every path, so the operand
// stack stays balanced no matter the outcome.

// Introspection is the capability surface the debug layer needs from the
// runtime. The VM implements it; tooling should depend on this interface
// rather than on the VM's internals.
type Introspection interface {
	GetConstant(funcIndex, n int) bool
	GetConstantCount(funcIndex int) int
	SetConstant(funcIndex, n int) bool
	GetProto(funcIndex, n int, activated bool) bool
	GetProtoCount(funcIndex int) int
	GetStackValue(level, n int) bool
	SetStackValue(level, n int) bool
	Push(v Value)
	Pop() (Value, bool)
	Top() int
	CallDepth() int
}

var _ Introspection = (*VM)(nil)

// indexToValue resolves a stack-relative index to the value there.
// Non-negative indices address the current frame's register window from its
// base (or the stack bottom when no frame is active); negative indices
// address from the stack top, -1 being the topmost value.
func (vm *VM) indexToValue(funcIndex int) Value {
	var abs int
	if funcIndex >= 0 {
		base := 0
		if vm.frame != nil {
			base = vm.frame.base
		}
		abs = base + funcIndex
	} else {
		abs = vm.sp + funcIndex
	}
	if abs < 0 || abs >= vm.sp {
		return NilVal()
	}
	return vm.stack[abs]
}

// scriptClosureAt resolves funcIndex and returns the script closure there,
// or nil when the value is not a function or is a native closure.
func (vm *VM) scriptClosureAt(funcIndex int) *Closure {
	f := vm.indexToValue(funcIndex)
	if !f.IsFunction() {
		return nil
	}
	cl := f.AsClosure()
	if cl == nil || cl.IsNative() {
		return nil
	}
	return cl
}

// takeStaged consumes the staged input value for a write accessor. The
// caller returns false immediately when ok is false (nothing was staged);
// once taken, the input stays consumed on every subsequent path.
func (vm *VM) takeStaged() (Value, bool) {
	return vm.Pop()
}

// FunctionNameAt returns the diagnostic name of the function at funcIndex,
// or "" when the value there is not a script closure.
func (vm *VM) FunctionNameAt(funcIndex int) string {
	cl := vm.scriptClosureAt(funcIndex)
	if cl == nil {
		return ""
	}
	return cl.Name()
}

// GetConstant pushes a copy of constant n of the function at funcIndex.
// Returns false without pushing for native closures, non-functions, or an
// out-of-range n.
func (vm *VM) GetConstant(funcIndex, n int) bool {
	cl := vm.scriptClosureAt(funcIndex)
	if cl == nil {
		return false
	}
	if n < 0 || n >= len(cl.Proto.Constants) {
		return false
	}
	vm.push(cl.Proto.Constants[n])
	return true
}

// GetConstantCount returns the size of the constant pool of the function at
// funcIndex, or 0 for native closures and non-functions.
func (vm *VM) GetConstantCount(funcIndex int) int {
	cl := vm.scriptClosureAt(funcIndex)
	if cl == nil {
		return 0
	}
	return len(cl.Proto.Constants)
}

// SetConstant overwrites constant n of the function at funcIndex with the
// value staged on top of the stack. The staged value is consumed whether or
// not the write succeeds; with nothing staged the call fails untouched.
// Mutating a pool shared by other closures over the same template is
// visible to all of them, and no bytecode re-validation is performed.
func (vm *VM) SetConstant(funcIndex, n int) bool {
	v, ok := vm.takeStaged()
	if !ok {
		return false
	}
	cl := vm.scriptClosureAt(funcIndex)
	if cl == nil {
		return false
	}
	if n < 0 || n >= len(cl.Proto.Constants) {
		return false
	}
	cl.Proto.Constants[n] = v
	return true
}

// GetProto pushes a closure over nested template n of the function at
// funcIndex. Templates are not representable as bare values, so retrieval
// always materializes a closure with fresh (unbound) upvalue slots; the
// activated flag is accepted for API compatibility but both settings
// produce an identical closure.
func (vm *VM) GetProto(funcIndex, n int, activated bool) bool {
	cl := vm.scriptClosureAt(funcIndex)
	if cl == nil {
		return false
	}
	if n < 0 || n >= len(cl.Proto.Protos) {
		return false
	}
	np := cl.Proto.Protos[n]
	vm.push(ClosureVal(NewClosure(np, nil)))
	return true
}

// GetProtoCount returns the number of nested function templates of the
// function at funcIndex, or 0 for native closures and non-functions.
func (vm *VM) GetProtoCount(funcIndex int) int {
	cl := vm.scriptClosureAt(funcIndex)
	if cl == nil {
		return 0
	}
	return len(cl.Proto.Protos)
}

// GetStackValue pushes a copy of register n of the call frame level hops
// below the innermost one. Level 0 is the currently executing frame. Fails
// when the chain is exhausted before reaching level or when base+n falls
// outside the frame's [base, top) window.
func (vm *VM) GetStackValue(level, n int) bool {
	frame := vm.FrameAt(level)
	if frame == nil {
		return false
	}
	if n < 0 || frame.base+n >= frame.top {
		return false
	}
	vm.push(vm.stack[frame.base+n])
	return true
}

// SetStackValue overwrites register n of the frame at the given level with
// the value staged on top of the stack. Like SetConstant, the staged value
// is consumed on every path once present.
func (vm *VM) SetStackValue(level, n int) bool {
	v, ok := vm.takeStaged()
	if !ok {
		return false
	}
	frame := vm.FrameAt(level)
	if frame == nil {
		return false
	}
	if n < 0 || frame.base+n >= frame.top {
		return false
	}
	vm.stack[frame.base+n] = v
	return true
}
