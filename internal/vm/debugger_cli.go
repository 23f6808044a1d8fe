package vm

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DebuggerCLI provides a command-line interface for the debugger
type DebuggerCLI struct {
	debugger *Debugger
	vm       *VM
	scanner  *bufio.Scanner
	input    io.Reader
	output   io.Writer
}

// NewDebuggerCLI creates a new CLI debugger
func NewDebuggerCLI(debugger *Debugger, vm *VM) *DebuggerCLI {
	return &DebuggerCLI{
		debugger: debugger,
		vm:       vm,
		input:    os.Stdin,
		output:   os.Stdout,
	}
}

// SetInput sets the input reader
func (cli *DebuggerCLI) SetInput(r io.Reader) {
	cli.input = r
	cli.scanner = bufio.NewScanner(r)
}

// SetOutput sets the output writer
func (cli *DebuggerCLI) SetOutput(w io.Writer) {
	cli.output = w
}

// Run starts the debugger CLI loop
func (cli *DebuggerCLI) Run() {
	if cli.scanner == nil {
		cli.scanner = bufio.NewScanner(cli.input)
	}

	cli.debugger.Input = cli.input
	cli.debugger.Output = cli.output
	cli.debugger.OnStop = cli.onStop

	fmt.Fprintf(cli.output, "Debugger started. Type 'help' for commands.\n")
}

// onStop is called when the debugger stops
func (cli *DebuggerCLI) onStop(dbg *Debugger, vm *VM) {
	dbg.PrintLocation(vm)
	fmt.Fprintf(cli.output, "\n")

	for {
		fmt.Fprintf(cli.output, "(lune) ")
		if !cli.scanner.Scan() {
			if err := cli.scanner.Err(); err != nil {
				fmt.Fprintf(cli.output, "\nDebugger error: %v\n", err)
			} else {
				fmt.Fprintf(cli.output, "\nExiting debugger (EOF).\n")
			}
			dbg.Run()
			os.Exit(0)
			return
		}

		line := strings.TrimSpace(cli.scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := parts[0]
		args := parts[1:]

		switch cmd {
		case "help", "h":
			printHelp(cli.output)
		case "continue", "c":
			dbg.Continue()
			return
		case "step", "s":
			dbg.Step()
			return
		case "stepover", "so", "next", "n":
			dbg.StepOver(vm)
			return
		case "stepout", "out", "finish", "fin":
			dbg.StepOut(vm)
			return
		case "break", "b":
			cli.handleBreakpoint(args)
		case "delete", "d":
			cli.handleDeleteBreakpoint(args)
		case "list", "l":
			cli.handleListBreakpoints()
		case "locals", "vars":
			dbg.PrintLocals(vm)
		case "globals":
			dbg.PrintGlobals(vm)
		case "stack":
			dbg.PrintStack(vm)
		case "backtrace", "bt":
			dbg.PrintCallStack(vm)
		case "print", "p":
			cli.handlePrint(args, vm)
		case "const":
			cli.handleConst(args, vm)
		case "setconst":
			cli.handleSetConst(args, vm)
		case "protos":
			cli.handleProtos(args, vm)
		case "frame", "f":
			cli.handleFrame(args, vm)
		case "setframe":
			cli.handleSetFrame(args, vm)
		case "quit", "q", "exit":
			dbg.Run()
			os.Exit(0)
		default:
			fmt.Fprintf(cli.output, "Unknown command: %s. Type 'help' for help.\n", cmd)
		}
	}
}

// PrintHelp prints help information (exported for testing)
func (cli *DebuggerCLI) PrintHelp() {
	printHelp(cli.output)
}

func printHelp(output io.Writer) {
	help := `Debugger commands:
  help, h               - Show this help
  continue, c           - Continue execution until next breakpoint
  step, s               - Step into next instruction
  stepover, so, next, n - Step over function call
  stepout, out, finish  - Step out of current function
  break, b <file>:<line>  - Set breakpoint at file:line
  delete, d <file>:<line> - Delete breakpoint at file:line
  list, l               - List all breakpoints
  locals, vars          - Show local variables
  globals               - Show global variables
  stack                 - Show stack contents
  backtrace, bt         - Show call stack
  print, p <name>       - Print a local or global variable
  const <fi> [n]        - Show constant n (or all) of function at stack index fi
  setconst <fi> <n> <v> - Overwrite constant n of function at stack index fi
  protos <fi>           - List nested functions of function at stack index fi
  frame, f <lvl> <n>    - Show register n of the frame lvl hops from innermost
  setframe <lvl> <n> <v> - Overwrite register n of that frame
  quit, q, exit         - Exit debugger and program
`
	fmt.Fprint(output, help)
}

// handleBreakpoint handles breakpoint commands
func (cli *DebuggerCLI) handleBreakpoint(args []string) {
	file, line, ok := cli.parseLocation(args, "break")
	if !ok {
		return
	}
	bp := cli.debugger.SetBreakpoint(file, line)
	fmt.Fprintf(cli.output, "Breakpoint set at %s:%d\n", cli.displayPath(file), bp.Line)
}

// handleDeleteBreakpoint handles delete breakpoint commands
func (cli *DebuggerCLI) handleDeleteBreakpoint(args []string) {
	file, line, ok := cli.parseLocation(args, "delete")
	if !ok {
		return
	}
	cli.debugger.RemoveBreakpoint(file, line)
	fmt.Fprintf(cli.output, "Breakpoint removed at %s:%d\n", cli.displayPath(file), line)
}

// parseLocation parses a <file>:<line> argument and normalizes the path
func (cli *DebuggerCLI) parseLocation(args []string, cmd string) (string, int, bool) {
	if len(args) == 0 {
		fmt.Fprintf(cli.output, "Usage: %s <file>:<line>\n", cmd)
		return "", 0, false
	}

	parts := strings.Split(args[0], ":")
	if len(parts) != 2 {
		fmt.Fprintf(cli.output, "Invalid format. Use: %s <file>:<line>\n", cmd)
		return "", 0, false
	}

	file := parts[0]
	if abs, err := filepath.Abs(file); err == nil {
		file = abs
	}

	line, err := strconv.Atoi(parts[1])
	if err != nil {
		fmt.Fprintf(cli.output, "Invalid line number: %s\n", parts[1])
		return "", 0, false
	}
	return file, line, true
}

// displayPath shows a path relative to the working directory when possible
func (cli *DebuggerCLI) displayPath(file string) string {
	if wd, err := os.Getwd(); err == nil {
		if abs, err := filepath.Abs(file); err == nil {
			if rel, err := filepath.Rel(wd, abs); err == nil && !strings.HasPrefix(rel, "..") {
				return rel
			}
		}
	}
	return file
}

// handleListBreakpoints lists all breakpoints
func (cli *DebuggerCLI) handleListBreakpoints() {
	bps := cli.debugger.GetBreakpoints()
	if len(bps) == 0 {
		fmt.Fprintf(cli.output, "No breakpoints set.\n")
		return
	}

	fmt.Fprintf(cli.output, "Breakpoints:\n")
	for i, bp := range bps {
		fmt.Fprintf(cli.output, "  %d. %s:%d\n", i+1, cli.displayPath(bp.File), bp.Line)
	}
}

// handlePrint looks a name up in locals then globals
func (cli *DebuggerCLI) handlePrint(args []string, vm *VM) {
	if len(args) != 1 || !isValidIdentifier(args[0]) {
		fmt.Fprintf(cli.output, "Usage: print <name>\n")
		return
	}
	name := args[0]

	locals := cli.debugger.GetLocals(vm, 0)
	if val, ok := locals[name]; ok {
		fmt.Fprintf(cli.output, "%s\n", val.Inspect())
		return
	}
	if val, ok := vm.GetGlobal(name); ok {
		fmt.Fprintf(cli.output, "%s\n", val.Inspect())
		return
	}
	fmt.Fprintf(cli.output, "Unknown variable: %s\n", name)
}

// handleConst shows one constant or the whole pool of a function
func (cli *DebuggerCLI) handleConst(args []string, vm *VM) {
	if len(args) < 1 || len(args) > 2 {
		fmt.Fprintf(cli.output, "Usage: const <funcindex> [n]\n")
		return
	}
	fi, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(cli.output, "Invalid function index: %s\n", args[0])
		return
	}

	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Fprintf(cli.output, "Invalid constant index: %s\n", args[1])
			return
		}
		if !vm.GetConstant(fi, n) {
			fmt.Fprintf(cli.output, "No constant %d at function index %d\n", n, fi)
			return
		}
		v, _ := vm.Pop()
		fmt.Fprintf(cli.output, "[%d] = %s\n", n, v.Inspect())
		return
	}

	count := vm.GetConstantCount(fi)
	if count == 0 {
		fmt.Fprintf(cli.output, "No constants at function index %d\n", fi)
		return
	}
	fmt.Fprintf(cli.output, "Constants (%d):\n", count)
	for n := 0; n < count; n++ {
		if vm.GetConstant(fi, n) {
			v, _ := vm.Pop()
			fmt.Fprintf(cli.output, "  [%d] = %s\n", n, v.Inspect())
		}
	}
}

// handleSetConst overwrites a constant with a parsed literal
func (cli *DebuggerCLI) handleSetConst(args []string, vm *VM) {
	if len(args) < 3 {
		fmt.Fprintf(cli.output, "Usage: setconst <funcindex> <n> <value>\n")
		return
	}
	fi, err1 := strconv.Atoi(args[0])
	n, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil {
		fmt.Fprintf(cli.output, "Invalid index arguments\n")
		return
	}
	v, err := ParseValueLiteral(strings.Join(args[2:], " "))
	if err != nil {
		fmt.Fprintf(cli.output, "Invalid value: %v\n", err)
		return
	}

	vm.Push(v)
	if !vm.SetConstant(fi, n) {
		fmt.Fprintf(cli.output, "Cannot set constant %d at function index %d\n", n, fi)
		return
	}
	fmt.Fprintf(cli.output, "Constant [%d] = %s\n", n, v.Inspect())
}

// handleProtos lists the nested functions of a function
func (cli *DebuggerCLI) handleProtos(args []string, vm *VM) {
	if len(args) != 1 {
		fmt.Fprintf(cli.output, "Usage: protos <funcindex>\n")
		return
	}
	fi, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(cli.output, "Invalid function index: %s\n", args[0])
		return
	}

	count := vm.GetProtoCount(fi)
	if count == 0 {
		fmt.Fprintf(cli.output, "No nested functions at function index %d\n", fi)
		return
	}
	fmt.Fprintf(cli.output, "Nested functions (%d):\n", count)
	for n := 0; n < count; n++ {
		if vm.GetProto(fi, n, false) {
			v, _ := vm.Pop()
			fmt.Fprintf(cli.output, "  [%d] = %s\n", n, v.Inspect())
		}
	}
}

// handleFrame shows a register of a frame in the live call chain
func (cli *DebuggerCLI) handleFrame(args []string, vm *VM) {
	if len(args) != 2 {
		fmt.Fprintf(cli.output, "Usage: frame <level> <n>\n")
		return
	}
	level, err1 := strconv.Atoi(args[0])
	n, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil {
		fmt.Fprintf(cli.output, "Invalid index arguments\n")
		return
	}

	if !vm.GetStackValue(level, n) {
		fmt.Fprintf(cli.output, "No register %d at level %d\n", n, level)
		return
	}
	v, _ := vm.Pop()

	name := fmt.Sprintf("slot%d", n)
	if frame := vm.FrameAt(level); frame != nil && frame.proto != nil {
		name = frame.proto.LocalName(n)
	}
	fmt.Fprintf(cli.output, "%s = %s\n", name, v.Inspect())
}

// handleSetFrame overwrites a register of a frame in the live call chain
func (cli *DebuggerCLI) handleSetFrame(args []string, vm *VM) {
	if len(args) < 3 {
		fmt.Fprintf(cli.output, "Usage: setframe <level> <n> <value>\n")
		return
	}
	level, err1 := strconv.Atoi(args[0])
	n, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil {
		fmt.Fprintf(cli.output, "Invalid index arguments\n")
		return
	}
	v, err := ParseValueLiteral(strings.Join(args[2:], " "))
	if err != nil {
		fmt.Fprintf(cli.output, "Invalid value: %v\n", err)
		return
	}

	vm.Push(v)
	if !vm.SetStackValue(level, n) {
		fmt.Fprintf(cli.output, "Cannot set register %d at level %d\n", n, level)
		return
	}
	fmt.Fprintf(cli.output, "Register [%d] = %s\n", n, v.Inspect())
}

// ParseValueLiteral parses a plain literal (nil, true, false, a number, or
// a possibly-quoted string) into a Value.
func ParseValueLiteral(s string) (Value, error) {
	switch s {
	case "nil":
		return NilVal(), nil
	case "true":
		return BoolVal(true), nil
	case "false":
		return BoolVal(false), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return NumberVal(f), nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return NilVal(), fmt.Errorf("bad string literal %s", s)
		}
		return StringVal(unquoted), nil
	}
	if s == "" {
		return NilVal(), fmt.Errorf("empty literal")
	}
	return StringVal(s), nil
}

// isValidIdentifier checks if a string is a valid identifier
func isValidIdentifier(s string) bool {
	if len(s) == 0 {
		return false
	}
	if !((s[0] >= 'a' && s[0] <= 'z') || (s[0] >= 'A' && s[0] <= 'Z') || s[0] == '_') {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !((s[i] >= 'a' && s[i] <= 'z') || (s[i] >= 'A' && s[i] <= 'Z') ||
			(s[i] >= '0' && s[i] <= '9') || s[i] == '_') {
			return false
		}
	}
	return true
}
