package vm

import (
	"strings"
	"testing"
)

// runProto executes a top-level proto on a fresh VM
func runProto(t *testing.T, p *Proto) Value {
	t.Helper()
	machine := New()
	result, err := machine.Run(p)
	if err != nil {
		t.Fatalf("runtime error: %s", err)
	}
	return result
}

func testNumberValue(t *testing.T, v Value, expected float64) {
	t.Helper()
	if !v.IsNumber() {
		t.Fatalf("value is not number. got=%s (%+v)", v.Type.Name(), v)
	}
	if v.AsNumber() != expected {
		t.Errorf("value has wrong number. got=%g, want=%g", v.AsNumber(), expected)
	}
}

func testStringValue(t *testing.T, v Value, expected string) {
	t.Helper()
	if !v.IsString() {
		t.Fatalf("value is not string. got=%s (%+v)", v.Type.Name(), v)
	}
	if v.AsString() != expected {
		t.Errorf("value has wrong string. got=%q, want=%q", v.AsString(), expected)
	}
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		name     string
		op       Opcode
		a, b     float64
		expected float64
	}{
		{"add", OP_ADD, 2, 3, 5},
		{"sub", OP_SUB, 10, 4, 6},
		{"mul", OP_MUL, 6, 7, 42},
		{"div", OP_DIV, 9, 2, 4.5},
		{"mod", OP_MOD, 10, 3, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProto("main")
			p.EmitConstant(NumberVal(tt.a), 1)
			p.EmitConstant(NumberVal(tt.b), 1)
			p.EmitOp(tt.op, 1)
			p.EmitOp(OP_RETURN, 1)

			testNumberValue(t, runProto(t, p), tt.expected)
		})
	}
}

func TestConcat(t *testing.T) {
	p := NewProto("main")
	p.EmitConstant(StringVal("foo"), 1)
	p.EmitConstant(StringVal("bar"), 1)
	p.EmitOp(OP_CONCAT, 1)
	p.EmitOp(OP_RETURN, 1)

	testStringValue(t, runProto(t, p), "foobar")
}

func TestComparisonAndJump(t *testing.T) {
	// if 1 < 2 then "yes" else "no"
	p := NewProto("main")
	p.EmitConstant(NumberVal(1), 1)
	p.EmitConstant(NumberVal(2), 1)
	p.EmitOp(OP_LT, 1)
	p.EmitOp(OP_JUMP_IF_FALSE, 2)
	p.EmitUint16(4, 2) // skip CONST "yes" (3 bytes) + RETURN (1 byte)
	p.EmitConstant(StringVal("yes"), 2)
	p.EmitOp(OP_RETURN, 2)
	p.EmitConstant(StringVal("no"), 3)
	p.EmitOp(OP_RETURN, 3)

	testStringValue(t, runProto(t, p), "yes")
}

func TestGlobals(t *testing.T) {
	p := NewProto("main")
	p.EmitConstant(NumberVal(7), 1)
	nameIdx := p.AddConstant(StringVal("x"))
	p.EmitOp(OP_SET_GLOBAL, 1)
	p.EmitUint16(nameIdx, 1)
	p.EmitOp(OP_GET_GLOBAL, 2)
	p.EmitUint16(nameIdx, 2)
	p.EmitOp(OP_RETURN, 2)

	testNumberValue(t, runProto(t, p), 7)
}

func TestLocalSlots(t *testing.T) {
	// main has a 2-slot register window; write then read slot 1
	p := NewProto("main")
	p.MaxStack = 2
	p.EmitConstant(NumberVal(5), 1)
	p.Emit(byte(OP_SET_LOCAL), 1)
	p.Emit(1, 1)
	p.EmitOp(OP_POP, 1)
	p.Emit(byte(OP_GET_LOCAL), 2)
	p.Emit(1, 2)
	p.EmitOp(OP_RETURN, 2)

	testNumberValue(t, runProto(t, p), 5)
}

func TestFunctionCall(t *testing.T) {
	// double(x) = x * 2; main returns double(21)
	double := NewProto("double")
	double.NumParams = 1
	double.MaxStack = 1
	double.Emit(byte(OP_GET_LOCAL), 1)
	double.Emit(0, 1)
	double.EmitConstant(NumberVal(2), 1)
	double.EmitOp(OP_MUL, 1)
	double.EmitOp(OP_RETURN, 1)

	main := NewProto("main")
	protoIdx := main.AddProto(double)
	main.EmitOp(OP_CLOSURE, 2)
	main.EmitUint16(protoIdx, 2)
	main.EmitConstant(NumberVal(21), 2)
	main.Emit(byte(OP_CALL), 2)
	main.Emit(1, 2)
	main.EmitOp(OP_RETURN, 2)

	testNumberValue(t, runProto(t, main), 42)
}

func TestArityMismatch(t *testing.T) {
	f := NewProto("f")
	f.NumParams = 2
	f.MaxStack = 2
	f.EmitOp(OP_NIL, 1)
	f.EmitOp(OP_RETURN, 1)

	main := NewProto("main")
	protoIdx := main.AddProto(f)
	main.EmitOp(OP_CLOSURE, 1)
	main.EmitUint16(protoIdx, 1)
	main.EmitConstant(NumberVal(1), 1)
	main.Emit(byte(OP_CALL), 1)
	main.Emit(1, 1)
	main.EmitOp(OP_RETURN, 1)

	machine := New()
	_, err := machine.Run(main)
	if err == nil {
		t.Fatal("expected arity error, got nil")
	}
	if !strings.Contains(err.Error(), "expects 2 arguments") {
		t.Errorf("unexpected error: %s", err)
	}
}

func TestNativeCall(t *testing.T) {
	main := NewProto("main")
	nameIdx := main.AddConstant(StringVal("add3"))
	main.EmitOp(OP_GET_GLOBAL, 1)
	main.EmitUint16(nameIdx, 1)
	main.EmitConstant(NumberVal(1), 1)
	main.EmitConstant(NumberVal(2), 1)
	main.EmitConstant(NumberVal(3), 1)
	main.Emit(byte(OP_CALL), 1)
	main.Emit(3, 1)
	main.EmitOp(OP_RETURN, 1)

	machine := New()
	machine.RegisterNative("add3", func(vm *VM, args []Value) (Value, error) {
		sum := 0.0
		for _, a := range args {
			sum += a.AsNumber()
		}
		return NumberVal(sum), nil
	})

	result, err := machine.Run(main)
	if err != nil {
		t.Fatalf("runtime error: %s", err)
	}
	testNumberValue(t, result, 6)
}

func TestClosureCapturesUpvalue(t *testing.T) {
	// outer(x) returns a closure that returns x; main calls outer(99) then
	// calls the result.
	inner := NewProto("inner")
	inner.NumParams = 0
	inner.MaxStack = 1
	inner.UpvalueCount = 1
	inner.Emit(byte(OP_GET_UPVALUE), 2)
	inner.Emit(0, 2)
	inner.EmitOp(OP_RETURN, 2)

	outer := NewProto("outer")
	outer.NumParams = 1
	outer.MaxStack = 1
	innerIdx := outer.AddProto(inner)
	outer.EmitOp(OP_CLOSURE, 2)
	outer.EmitUint16(innerIdx, 2)
	outer.Emit(1, 2) // capture local
	outer.Emit(0, 2) // slot 0 (x)
	outer.EmitOp(OP_RETURN, 2)

	main := NewProto("main")
	outerIdx := main.AddProto(outer)
	main.EmitOp(OP_CLOSURE, 1)
	main.EmitUint16(outerIdx, 1)
	main.EmitConstant(NumberVal(99), 1)
	main.Emit(byte(OP_CALL), 1)
	main.Emit(1, 1)
	main.Emit(byte(OP_CALL), 1)
	main.Emit(0, 1)
	main.EmitOp(OP_RETURN, 1)

	testNumberValue(t, runProto(t, main), 99)
}

func TestRuntimeErrorHasStackTrace(t *testing.T) {
	f := NewProto("boom")
	f.NumParams = 0
	f.MaxStack = 1
	f.EmitOp(OP_NIL, 5)
	f.EmitConstant(NumberVal(1), 5)
	f.EmitOp(OP_ADD, 5)
	f.EmitOp(OP_RETURN, 5)

	main := NewProto("main")
	main.Source = "trace.lune"
	protoIdx := main.AddProto(f)
	main.EmitOp(OP_CLOSURE, 1)
	main.EmitUint16(protoIdx, 1)
	main.Emit(byte(OP_CALL), 1)
	main.Emit(0, 1)
	main.EmitOp(OP_RETURN, 1)

	machine := New()
	_, err := machine.Run(main)
	if err == nil {
		t.Fatal("expected runtime error, got nil")
	}
	if !strings.Contains(err.Error(), "stack trace") {
		t.Errorf("error has no stack trace: %s", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("stack trace does not name the failing function: %s", err)
	}
}

func TestImplicitReturnNil(t *testing.T) {
	p := NewProto("main")
	p.EmitConstant(NumberVal(1), 1)
	p.EmitOp(OP_POP, 1)
	// no explicit RETURN

	result := runProto(t, p)
	if !result.IsNil() {
		t.Errorf("expected nil result, got %s", result.Inspect())
	}
}

func TestHalt(t *testing.T) {
	p := NewProto("main")
	p.EmitConstant(NumberVal(3), 1)
	p.EmitOp(OP_HALT, 1)
	p.EmitConstant(NumberVal(4), 2)
	p.EmitOp(OP_RETURN, 2)

	testNumberValue(t, runProto(t, p), 3)
}

func TestLoop(t *testing.T) {
	// i = 0; while i < 5 { i = i + 1 }; return i
	p := NewProto("main")
	p.MaxStack = 1

	p.EmitConstant(NumberVal(0), 1)
	p.Emit(byte(OP_SET_LOCAL), 1)
	p.Emit(0, 1)
	p.EmitOp(OP_POP, 1)

	loopStart := p.Len()
	p.Emit(byte(OP_GET_LOCAL), 2)
	p.Emit(0, 2)
	p.EmitConstant(NumberVal(5), 2)
	p.EmitOp(OP_LT, 2)
	p.EmitOp(OP_JUMP_IF_FALSE, 2)
	exitPatch := p.Len()
	p.EmitUint16(0, 2)

	p.Emit(byte(OP_GET_LOCAL), 3)
	p.Emit(0, 3)
	p.EmitConstant(NumberVal(1), 3)
	p.EmitOp(OP_ADD, 3)
	p.Emit(byte(OP_SET_LOCAL), 3)
	p.Emit(0, 3)
	p.EmitOp(OP_POP, 3)

	p.EmitOp(OP_LOOP, 4)
	p.EmitUint16(p.Len()+2-loopStart, 4)

	exitTarget := p.Len()
	jump := exitTarget - (exitPatch + 2)
	p.Code[exitPatch] = byte(jump >> 8)
	p.Code[exitPatch+1] = byte(jump)

	p.Emit(byte(OP_GET_LOCAL), 5)
	p.Emit(0, 5)
	p.EmitOp(OP_RETURN, 5)

	testNumberValue(t, runProto(t, p), 5)
}
