package vm

import (
	"bytes"
	"strings"
	"testing"
)

func TestBreakpointManagement(t *testing.T) {
	d := NewDebugger()

	d.SetBreakpoint("a.lune", 3)
	d.SetBreakpoint("a.lune", 7)
	d.SetBreakpoint("b.lune", 1)

	if got := len(d.GetBreakpoints()); got != 3 {
		t.Fatalf("breakpoints: got=%d, want=3", got)
	}

	d.RemoveBreakpoint("a.lune", 3)
	if got := len(d.GetBreakpoints()); got != 2 {
		t.Fatalf("after remove: got=%d, want=2", got)
	}

	d.ClearBreakpoints()
	if got := len(d.GetBreakpoints()); got != 0 {
		t.Fatalf("after clear: got=%d, want=0", got)
	}
}

// breakFixture builds a two-line program with source metadata so line
// breakpoints can hit.
func breakFixture() *Proto {
	p := NewProto("main")
	p.Source = "bp.lune"
	p.MaxStack = 1
	p.LocalNames = []string{"x"}
	p.EmitConstant(NumberVal(10), 1)
	p.Emit(byte(OP_SET_LOCAL), 1)
	p.Emit(0, 1)
	p.EmitOp(OP_POP, 1)
	p.Emit(byte(OP_GET_LOCAL), 2)
	p.Emit(0, 2)
	p.EmitOp(OP_RETURN, 2)
	return p
}

func TestBreakpointStopsExecution(t *testing.T) {
	machine := New()
	machine.EnableDebugger()
	d := machine.GetDebugger()
	d.Output = &bytes.Buffer{}
	d.SetBreakpoint("bp.lune", 2)

	var stoppedLine int
	var localX Value
	d.OnStop = func(dbg *Debugger, vm *VM) {
		_, stoppedLine = dbg.GetCurrentLocation(vm)
		localX = dbg.GetLocals(vm, 0)["x"]
		dbg.Continue()
	}

	result, err := machine.Run(breakFixture())
	if err != nil {
		t.Fatalf("runtime error: %s", err)
	}

	if stoppedLine != 2 {
		t.Errorf("stopped at line %d, want 2", stoppedLine)
	}
	testNumberValue(t, localX, 10)
	testNumberValue(t, result, 10)
}

func TestStepModeStopsOnEveryLine(t *testing.T) {
	machine := New()
	machine.EnableDebugger()
	d := machine.GetDebugger()
	d.Output = &bytes.Buffer{}
	d.Step()

	var lines []int
	d.OnStop = func(dbg *Debugger, vm *VM) {
		_, line := dbg.GetCurrentLocation(vm)
		lines = append(lines, line)
	}

	if _, err := machine.Run(breakFixture()); err != nil {
		t.Fatalf("runtime error: %s", err)
	}

	if len(lines) != 2 || lines[0] != 1 || lines[1] != 2 {
		t.Errorf("stopped lines: got=%v, want=[1 2]", lines)
	}
}

func TestGetCallStack(t *testing.T) {
	probeVM(t, stackFixture(), func(vm *VM) {
		stack := vm.GetDebugger().GetCallStack(vm)
		if len(stack) != 2 {
			t.Fatalf("call stack depth: got=%d, want=2", len(stack))
		}
		if stack[0].FunctionName != "f" {
			t.Errorf("innermost frame: got=%q, want=%q", stack[0].FunctionName, "f")
		}
		if stack[1].FunctionName != "main" {
			t.Errorf("root frame: got=%q, want=%q", stack[1].FunctionName, "main")
		}
	})
}

func TestGetLocalsUsesDebugNames(t *testing.T) {
	probeVM(t, stackFixture(), func(vm *VM) {
		locals := vm.GetDebugger().GetLocals(vm, 0)
		v, ok := locals["x"]
		if !ok {
			t.Fatalf("local x missing, got %v", locals)
		}
		testNumberValue(t, v, 42)
		if _, ok := locals["slot1"]; !ok {
			t.Error("unnamed slot not reported with fallback name")
		}
	})
}

func TestDisassembleListsConstantsAndNested(t *testing.T) {
	out := Disassemble(stackFixture(), "main")

	for _, want := range []string{"== main ==", "CLOSURE", "CALL", "constants", "== f =="} {
		if !strings.Contains(out, want) {
			t.Errorf("disassembly missing %q:\n%s", want, out)
		}
	}
}

func TestCLIBreakpointCommands(t *testing.T) {
	machine := New()
	cli := NewDebuggerCLI(machine.GetDebugger(), machine)
	out := &bytes.Buffer{}
	cli.SetOutput(out)

	cli.handleBreakpoint([]string{"a.lune:3"})
	if got := len(machine.GetDebugger().GetBreakpoints()); got != 1 {
		t.Fatalf("breakpoints after set: got=%d, want=1", got)
	}

	cli.handleDeleteBreakpoint([]string{"a.lune:3"})
	if got := len(machine.GetDebugger().GetBreakpoints()); got != 0 {
		t.Fatalf("breakpoints after delete: got=%d, want=0", got)
	}

	cli.handleBreakpoint([]string{"nonsense"})
	if !strings.Contains(out.String(), "Invalid format") {
		t.Error("bad breakpoint syntax not reported")
	}
}

func TestCLIConstCommands(t *testing.T) {
	machine := New()
	machine.Push(ClosureVal(NewClosure(helloProto(), nil)))

	cli := NewDebuggerCLI(machine.GetDebugger(), machine)
	out := &bytes.Buffer{}
	cli.SetOutput(out)

	cli.handleConst([]string{"-1"}, machine)
	if !strings.Contains(out.String(), `"hello"`) || !strings.Contains(out.String(), "42") {
		t.Errorf("const listing incomplete:\n%s", out.String())
	}

	out.Reset()
	cli.handleSetConst([]string{"-1", "1", "99"}, machine)
	cli.handleConst([]string{"-1", "1"}, machine)
	if !strings.Contains(out.String(), "99") {
		t.Errorf("setconst did not take effect:\n%s", out.String())
	}

	if depth := machine.Top(); depth != 1 {
		t.Errorf("stack depth after CLI commands: got=%d, want=1", depth)
	}
}

func TestParseValueLiteral(t *testing.T) {
	tests := []struct {
		input    string
		expected Value
	}{
		{"nil", NilVal()},
		{"true", BoolVal(true)},
		{"false", BoolVal(false)},
		{"42", NumberVal(42)},
		{"-1.5", NumberVal(-1.5)},
		{`"hi there"`, StringVal("hi there")},
		{"bare", StringVal("bare")},
	}

	for _, tt := range tests {
		got, err := ParseValueLiteral(tt.input)
		if err != nil {
			t.Fatalf("ParseValueLiteral(%q): %s", tt.input, err)
		}
		if !got.Equals(tt.expected) {
			t.Errorf("ParseValueLiteral(%q): got=%s, want=%s",
				tt.input, got.Inspect(), tt.expected.Inspect())
		}
	}

	if _, err := ParseValueLiteral(""); err == nil {
		t.Error("empty literal accepted")
	}
}
