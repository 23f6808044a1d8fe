package vm

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
)

var errTruncatedBytecode = errors.New("truncated bytecode")
var errStackUnderflow = errors.New("stack underflow")
var errStackOverflow = errors.New("stack overflow")
var errInvalidConstantIndex = errors.New("invalid constant index")

// Initial sizes for stack and frames
const InitialStackSize = 2048
const InitialFrameCount = 256

// Growth increment when stack needs to expand
const StackGrowthIncrement = 1024
const FrameGrowthIncrement = 128

// Maximum call stack depth to prevent runaway recursion
const MaxFrameCount = 4096

// Maximum operand stack size to prevent OOM
const MaxStackSize = 1024 * 1024

// CallFrame is one activation record in the call chain. Its register
// window is [base, top) on the value stack; frames below the innermost one
// keep their window fixed until their call returns.
type CallFrame struct {
	closure *Closure
	proto   *Proto // shortcut to closure.Proto
	ip      int    // instruction pointer within this frame's proto
	base    int    // where this frame's registers start in the stack
	top     int    // end of this frame's valid registers
}

// Closure returns the closure executing in this frame
func (f *CallFrame) Closure() *Closure { return f.closure }

// Base returns the start of the frame's register window
func (f *CallFrame) Base() int { return f.base }

// Top returns the end of the frame's register window
func (f *CallFrame) Top() int { return f.top }

// Line returns the source line of the instruction being executed
func (f *CallFrame) Line() int {
	if f.proto == nil {
		return 0
	}
	ip := f.ip
	if ip > 0 {
		ip--
	}
	if ip < len(f.proto.Lines) {
		return f.proto.Lines[ip]
	}
	return 0
}

// VM is the virtual machine that executes bytecode
type VM struct {
	stack []Value
	sp    int // stack pointer (next free slot)

	frames     []CallFrame // contiguous call-frame arena
	frameCount int

	// Current frame (for convenience)
	frame *CallFrame

	// Globals by name
	globals map[string]Value

	// Linked list of open upvalues, sorted by stack location (highest first)
	openUpvalues *Upvalue

	// Current file name for error messages
	currentFile string

	// Output writer (defaults to os.Stdout)
	out io.Writer

	// Debugger for debugging support
	debugger *Debugger
}

// New creates a new VM instance
func New() *VM {
	return &VM{
		stack:    make([]Value, InitialStackSize),
		frames:   make([]CallFrame, InitialFrameCount),
		globals:  make(map[string]Value),
		out:      os.Stdout,
		debugger: NewDebugger(),
	}
}

// SetOutput sets the output writer for the VM
func (vm *VM) SetOutput(w io.Writer) {
	vm.out = w
}

// SetCurrentFile sets the current file name for error messages
func (vm *VM) SetCurrentFile(file string) {
	vm.currentFile = file
}

// GetDebugger returns the debugger instance
func (vm *VM) GetDebugger() *Debugger {
	return vm.debugger
}

// EnableDebugger enables debugging
func (vm *VM) EnableDebugger() {
	vm.debugger.Enabled = true
}

// DisableDebugger disables debugging
func (vm *VM) DisableDebugger() {
	vm.debugger.Enabled = false
	vm.debugger.Run()
}

// SetGlobal binds a global variable
func (vm *VM) SetGlobal(name string, v Value) {
	vm.globals[name] = v
}

// GetGlobal looks up a global variable
func (vm *VM) GetGlobal(name string) (Value, bool) {
	v, ok := vm.globals[name]
	return v, ok
}

// RegisterNative binds a host function as a global
func (vm *VM) RegisterNative(name string, fn NativeFn) {
	vm.globals[name] = ClosureVal(NewNativeClosure(name, fn))
}

// Run executes a top-level proto to completion and returns its result
func (vm *VM) Run(p *Proto) (result Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok && (errors.Is(e, errStackOverflow) ||
				errors.Is(e, errStackUnderflow) || errors.Is(e, errTruncatedBytecode)) {
				err = vm.formatError(e)
				result = NilVal()
				return
			}
			panic(r)
		}
	}()

	script := NewClosure(p, nil)
	if p.Source != "" {
		vm.currentFile = p.Source
	}

	// Reset stack and frames
	vm.sp = 0
	vm.frameCount = 0
	vm.openUpvalues = nil

	vm.pushFrame(script, 0)
	return vm.execute()
}

// CallDepth returns the number of active call frames
func (vm *VM) CallDepth() int {
	return vm.frameCount
}

// CurrentFrame returns the innermost active frame, or nil
func (vm *VM) CurrentFrame() *CallFrame {
	return vm.frame
}

// FrameAt walks level hops from the innermost frame toward the root and
// returns the frame there, or nil when the chain is exhausted. Level 0 is
// the currently executing frame.
func (vm *VM) FrameAt(level int) *CallFrame {
	if level < 0 || level >= vm.frameCount {
		return nil
	}
	return &vm.frames[vm.frameCount-1-level]
}

// execute is the main interpreter loop
func (vm *VM) execute() (Value, error) {
	for {
		if vm.debugger != nil && vm.debugger.Enabled && vm.debugger.ShouldBreak(vm) {
			if vm.debugger.OnStop != nil {
				vm.debugger.OnStop(vm.debugger, vm)
			}
		}

		if vm.frame.ip >= len(vm.frame.proto.Code) {
			// Fell off the end of the bytecode: implicit return nil
			vm.push(NilVal())
			if done, result := vm.performReturn(); done {
				return result, nil
			}
			continue
		}

		op := Opcode(vm.frame.proto.Code[vm.frame.ip])
		vm.frame.ip++

		switch op {
		case OP_RETURN:
			if done, result := vm.performReturn(); done {
				return result, nil
			}

		case OP_HALT:
			vm.frameCount = 0
			vm.frame = nil
			if vm.sp > 0 {
				return vm.pop(), nil
			}
			return NilVal(), nil

		default:
			if err := vm.executeOneOp(op); err != nil {
				return NilVal(), vm.formatError(err)
			}
		}
	}
}

// performReturn pops the result, tears the frame down and hands the result
// to the caller. Returns true when the last frame returned.
func (vm *VM) performReturn() (bool, Value) {
	result := vm.pop()
	frame := vm.frame

	// Close all upvalues that point into this frame's register window
	vm.closeUpvalues(frame.base)

	vm.frameCount--
	if vm.frameCount == 0 {
		vm.frame = nil
		return true, result
	}

	vm.sp = frame.base
	vm.frame = &vm.frames[vm.frameCount-1]
	vm.push(result)
	return false, NilVal()
}

// executeOneOp executes a single opcode (except RETURN and HALT)
func (vm *VM) executeOneOp(op Opcode) error {
	switch op {
	case OP_CONST:
		idx := vm.readUint16()
		if idx >= len(vm.frame.proto.Constants) {
			return errInvalidConstantIndex
		}
		vm.push(vm.frame.proto.Constants[idx])

	case OP_NIL:
		vm.push(NilVal())
	case OP_TRUE:
		vm.push(BoolVal(true))
	case OP_FALSE:
		vm.push(BoolVal(false))

	case OP_POP:
		vm.pop()
	case OP_DUP:
		vm.push(vm.peek(0))

	case OP_ADD, OP_SUB, OP_MUL, OP_DIV, OP_MOD:
		return vm.arithmeticOp(op)

	case OP_NEG:
		v := vm.pop()
		if !v.IsNumber() {
			return vm.runtimeError("attempt to negate a %s value", v.Type.Name())
		}
		vm.push(NumberVal(-v.AsNumber()))

	case OP_CONCAT:
		right := vm.pop()
		left := vm.pop()
		ls, ok1 := coerceString(left)
		rs, ok2 := coerceString(right)
		if !ok1 || !ok2 {
			return vm.runtimeError("attempt to concatenate a %s value", firstBad(left, right).Type.Name())
		}
		vm.push(StringVal(ls + rs))

	case OP_EQ:
		right := vm.pop()
		left := vm.pop()
		vm.push(BoolVal(left.Equals(right)))
	case OP_NE:
		right := vm.pop()
		left := vm.pop()
		vm.push(BoolVal(!left.Equals(right)))

	case OP_LT, OP_LE, OP_GT, OP_GE:
		return vm.comparisonOp(op)

	case OP_NOT:
		v := vm.pop()
		vm.push(BoolVal(!v.IsTruthy()))

	case OP_GET_LOCAL:
		slot := int(vm.readByte())
		vm.push(vm.stack[vm.frame.base+slot])

	case OP_SET_LOCAL:
		slot := int(vm.readByte())
		vm.stack[vm.frame.base+slot] = vm.peek(0)

	case OP_GET_GLOBAL:
		name, err := vm.readStringConstant()
		if err != nil {
			return err
		}
		v, ok := vm.globals[name]
		if !ok {
			return vm.runtimeError("undefined global %q", name)
		}
		vm.push(v)

	case OP_SET_GLOBAL:
		name, err := vm.readStringConstant()
		if err != nil {
			return err
		}
		vm.globals[name] = vm.pop()

	case OP_JUMP:
		offset := vm.readUint16()
		vm.frame.ip += offset

	case OP_JUMP_IF_FALSE:
		offset := vm.readUint16()
		if !vm.pop().IsTruthy() {
			vm.frame.ip += offset
		}

	case OP_LOOP:
		offset := vm.readUint16()
		vm.frame.ip -= offset

	case OP_CALL:
		argCount := int(vm.readByte())
		if err := vm.callValue(vm.peek(argCount), argCount); err != nil {
			return err
		}

	case OP_CLOSURE:
		idx := vm.readUint16()
		if idx >= len(vm.frame.proto.Protos) {
			return vm.runtimeError("nested proto index %d out of bounds", idx)
		}
		np := vm.frame.proto.Protos[idx]
		closure := NewClosure(np, nil)
		for i := 0; i < np.UpvalueCount; i++ {
			isLocal := vm.readByte()
			index := int(vm.readByte())
			if isLocal == 1 {
				closure.Upvalues[i] = vm.captureUpvalue(vm.frame.base + index)
			} else {
				if index < 0 || index >= len(vm.frame.closure.Upvalues) {
					return vm.runtimeError("upvalue index %d out of bounds", index)
				}
				closure.Upvalues[i] = vm.frame.closure.Upvalues[index]
			}
		}
		vm.push(ClosureVal(closure))

	case OP_GET_UPVALUE:
		slot := int(vm.readByte())
		if slot < 0 || slot >= len(vm.frame.closure.Upvalues) {
			return vm.runtimeError("upvalue slot %d out of bounds", slot)
		}
		upvalue := vm.frame.closure.Upvalues[slot]
		if upvalue == nil {
			vm.push(NilVal())
		} else if upvalue.Location >= 0 {
			vm.push(vm.stack[upvalue.Location])
		} else {
			vm.push(upvalue.Closed)
		}

	case OP_SET_UPVALUE:
		slot := int(vm.readByte())
		if slot < 0 || slot >= len(vm.frame.closure.Upvalues) {
			return vm.runtimeError("upvalue slot %d out of bounds", slot)
		}
		upvalue := vm.frame.closure.Upvalues[slot]
		if upvalue == nil {
			return vm.runtimeError("set of uncaptured upvalue %d", slot)
		}
		if upvalue.Location >= 0 {
			vm.stack[upvalue.Location] = vm.peek(0)
		} else {
			upvalue.Closed = vm.peek(0)
		}

	case OP_CLOSE_UPVALUE:
		vm.closeUpvalues(vm.sp - 1)
		vm.pop()

	default:
		return vm.runtimeError("unknown opcode %d", op)
	}

	return nil
}

func (vm *VM) arithmeticOp(op Opcode) error {
	right := vm.pop()
	left := vm.pop()
	if !left.IsNumber() || !right.IsNumber() {
		return vm.runtimeError("attempt to perform arithmetic on a %s value",
			firstBad(left, right).Type.Name())
	}
	a, b := left.AsNumber(), right.AsNumber()
	switch op {
	case OP_ADD:
		vm.push(NumberVal(a + b))
	case OP_SUB:
		vm.push(NumberVal(a - b))
	case OP_MUL:
		vm.push(NumberVal(a * b))
	case OP_DIV:
		vm.push(NumberVal(a / b))
	case OP_MOD:
		vm.push(NumberVal(math.Mod(a, b)))
	}
	return nil
}

func (vm *VM) comparisonOp(op Opcode) error {
	right := vm.pop()
	left := vm.pop()

	// Numbers and strings order; anything else is a type error
	if left.IsNumber() && right.IsNumber() {
		a, b := left.AsNumber(), right.AsNumber()
		switch op {
		case OP_LT:
			vm.push(BoolVal(a < b))
		case OP_LE:
			vm.push(BoolVal(a <= b))
		case OP_GT:
			vm.push(BoolVal(a > b))
		case OP_GE:
			vm.push(BoolVal(a >= b))
		}
		return nil
	}
	if left.IsString() && right.IsString() {
		a, b := left.AsString(), right.AsString()
		switch op {
		case OP_LT:
			vm.push(BoolVal(a < b))
		case OP_LE:
			vm.push(BoolVal(a <= b))
		case OP_GT:
			vm.push(BoolVal(a > b))
		case OP_GE:
			vm.push(BoolVal(a >= b))
		}
		return nil
	}
	return vm.runtimeError("attempt to compare %s with %s",
		left.Type.Name(), right.Type.Name())
}

// callValue dispatches a call based on callee type
func (vm *VM) callValue(callee Value, argCount int) error {
	if !callee.IsFunction() {
		return vm.runtimeError("attempt to call a %s value", callee.Type.Name())
	}
	cl := callee.AsClosure()
	if cl.IsNative() {
		return vm.callNative(cl, argCount)
	}
	return vm.callClosure(cl, argCount)
}

// callClosure sets up a new call frame for a script closure.
// Stack on entry: [..., fn, arg1..argN]; the function slot is shifted out
// and the register window nil-filled up to the proto's MaxStack.
func (vm *VM) callClosure(closure *Closure, argCount int) error {
	p := closure.Proto

	if argCount != p.NumParams {
		return vm.runtimeError("function %s expects %d arguments, got %d",
			closure.Name(), p.NumParams, argCount)
	}

	// Shift args down over the function slot
	for i := 0; i < argCount; i++ {
		vm.stack[vm.sp-argCount-1+i] = vm.stack[vm.sp-argCount+i]
	}
	vm.sp--

	base := vm.sp - argCount

	// Nil-fill the rest of the register window
	for vm.sp < base+p.MaxStack {
		vm.push(NilVal())
	}

	vm.pushFrame(closure, base)
	return nil
}

// callNative pops the arguments and the function, invokes the host
// function, and pushes its result.
func (vm *VM) callNative(closure *Closure, argCount int) error {
	args := make([]Value, argCount)
	for i := argCount - 1; i >= 0; i-- {
		args[i] = vm.pop()
	}
	vm.pop() // the closure itself

	result, err := closure.native(vm, args)
	if err != nil {
		return err
	}
	vm.push(result)
	return nil
}

// pushFrame appends a frame for closure with the given register base
func (vm *VM) pushFrame(closure *Closure, base int) {
	if vm.frameCount >= MaxFrameCount {
		panic(errStackOverflow)
	}
	if vm.frameCount >= len(vm.frames) {
		growBy := FrameGrowthIncrement
		if len(vm.frames) > growBy {
			growBy = len(vm.frames)
		}
		newFrames := make([]CallFrame, len(vm.frames)+growBy)
		copy(newFrames, vm.frames[:vm.frameCount])
		vm.frames = newFrames
	}

	p := closure.Proto
	top := base + p.MaxStack
	if vm.sp < top {
		// Top-level entry: nil-fill the script's register window
		for vm.sp < top {
			vm.push(NilVal())
		}
	}

	frame := &vm.frames[vm.frameCount]
	frame.closure = closure
	frame.proto = p
	frame.ip = 0
	frame.base = base
	frame.top = top

	vm.frameCount++
	vm.frame = frame
}

// Stack operations

func (vm *VM) push(v Value) {
	if vm.sp >= len(vm.stack) {
		if vm.sp >= MaxStackSize {
			panic(errStackOverflow)
		}
		growBy := StackGrowthIncrement
		if len(vm.stack) > growBy {
			growBy = len(vm.stack)
		}
		newStack := make([]Value, len(vm.stack)+growBy)
		copy(newStack, vm.stack[:vm.sp])
		vm.stack = newStack
	}
	vm.stack[vm.sp] = v
	vm.sp++
}

func (vm *VM) pop() Value {
	if vm.sp <= 0 {
		panic(errStackUnderflow)
	}
	vm.sp--
	return vm.stack[vm.sp]
}

func (vm *VM) peek(distance int) Value {
	idx := vm.sp - 1 - distance
	if idx < 0 {
		panic(errStackUnderflow)
	}
	return vm.stack[idx]
}

// Push places a value on the operand stack. Part of the embedding API: the
// debug accessors stage write inputs and deliver read results through the
// operand stack, exactly one slot per operation.
func (vm *VM) Push(v Value) {
	vm.push(v)
}

// Pop removes and returns the top of the operand stack. The boolean is
// false when the stack is empty.
func (vm *VM) Pop() (Value, bool) {
	if vm.sp <= 0 {
		return NilVal(), false
	}
	vm.sp--
	return vm.stack[vm.sp], true
}

// Top returns the operand stack depth
func (vm *VM) Top() int {
	return vm.sp
}

// Read helpers

func (vm *VM) readByte() byte {
	if vm.frame.ip >= len(vm.frame.proto.Code) {
		panic(errTruncatedBytecode)
	}
	b := vm.frame.proto.Code[vm.frame.ip]
	vm.frame.ip++
	return b
}

func (vm *VM) readUint16() int {
	high := vm.readByte()
	low := vm.readByte()
	return int(high)<<8 | int(low)
}

func (vm *VM) readStringConstant() (string, error) {
	idx := vm.readUint16()
	if idx >= len(vm.frame.proto.Constants) {
		return "", errInvalidConstantIndex
	}
	c := vm.frame.proto.Constants[idx]
	if !c.IsString() {
		return "", vm.runtimeError("expected string constant at index %d", idx)
	}
	return c.AsString(), nil
}

// Helper functions

func coerceString(v Value) (string, bool) {
	switch v.Type {
	case ValString:
		return v.Str, true
	case ValNumber:
		return v.Inspect(), true
	default:
		return "", false
	}
}

func firstBad(left, right Value) Value {
	if !left.IsNumber() && !left.IsString() {
		return left
	}
	return right
}

func (vm *VM) runtimeError(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

// formatError adds line info and a stack trace to VM errors
func (vm *VM) formatError(err error) error {
	line := 0
	if vm.frame != nil {
		line = vm.frame.Line()
	}

	var stackTrace strings.Builder
	for i := vm.frameCount - 1; i >= 0; i-- {
		frame := &vm.frames[i]
		if frame.proto == nil {
			continue
		}
		file := frame.proto.Source
		if file == "" {
			file = vm.currentFile
		}
		if file == "" {
			file = "<script>"
		}
		name := frame.proto.Name
		if name == "" {
			name = "<anonymous>"
		}
		stackTrace.WriteString(fmt.Sprintf("\n  at %s (%s:%d)", name, file, frame.Line()))
	}

	return fmt.Errorf("runtime error at line %d: %s\nstack trace:%s", line, err, stackTrace.String())
}

// captureUpvalue creates or reuses an upvalue pointing to the given stack location
func (vm *VM) captureUpvalue(location int) *Upvalue {
	var prev *Upvalue
	upvalue := vm.openUpvalues

	// The list is sorted by location (highest first)
	for upvalue != nil && upvalue.Location > location {
		prev = upvalue
		upvalue = upvalue.Next
	}

	if upvalue != nil && upvalue.Location == location {
		return upvalue
	}

	created := &Upvalue{
		Location: location,
		Next:     upvalue,
	}
	if prev == nil {
		vm.openUpvalues = created
	} else {
		prev.Next = created
	}
	return created
}

// closeUpvalues closes all upvalues that point to stack locations >= lastSlot
func (vm *VM) closeUpvalues(lastSlot int) {
	for vm.openUpvalues != nil && vm.openUpvalues.Location >= lastSlot {
		upvalue := vm.openUpvalues
		upvalue.Closed = vm.stack[upvalue.Location]
		upvalue.Location = -1
		vm.openUpvalues = upvalue.Next
	}
}
