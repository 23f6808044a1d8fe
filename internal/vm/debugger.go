package vm

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DebuggerMode represents the current debugging mode
type DebuggerMode int

const (
	// ModeRun - normal execution (no debugging)
	ModeRun DebuggerMode = iota
	// ModeStep - step through instructions one at a time
	ModeStep
	// ModeStepOver - step over function calls
	ModeStepOver
	// ModeStepOut - step out of current function
	ModeStepOut
	// ModeContinue - continue until next breakpoint
	ModeContinue
)

// Breakpoint represents a breakpoint location
type Breakpoint struct {
	File string
	Line int
}

// Debugger provides debugging capabilities for the VM
type Debugger struct {
	// Enabled flag
	Enabled bool

	// Current mode
	mode DebuggerMode

	// Breakpoints map: file -> line -> Breakpoint
	breakpoints map[string]map[int]*Breakpoint

	// Step over: track frame depth when step over started
	stepOverFrameDepth int
	stepOverFile       string
	stepOverLine       int

	// Step out: track frame depth when step out started
	stepOutFrameDepth int

	// Input/Output for debugger commands
	Input  io.Reader
	Output io.Writer

	// Callback for when debugger stops
	OnStop func(*Debugger, *VM)

	// Last stopped location (for step commands)
	lastFile string
	lastLine int

	// Last breakpoint hit (to avoid stopping on the same breakpoint twice)
	lastBreakpointFile string
	lastBreakpointLine int
}

// NewDebugger creates a new debugger instance
func NewDebugger() *Debugger {
	return &Debugger{
		Enabled:     false,
		mode:        ModeRun,
		breakpoints: make(map[string]map[int]*Breakpoint),
	}
}

// SetBreakpoint sets a breakpoint at the given file and line
func (d *Debugger) SetBreakpoint(file string, line int) *Breakpoint {
	if d.breakpoints[file] == nil {
		d.breakpoints[file] = make(map[int]*Breakpoint)
	}

	bp := &Breakpoint{File: file, Line: line}
	d.breakpoints[file][line] = bp
	return bp
}

// RemoveBreakpoint removes a breakpoint at the given file and line
func (d *Debugger) RemoveBreakpoint(file string, line int) {
	if d.breakpoints[file] != nil {
		delete(d.breakpoints[file], line)
		if len(d.breakpoints[file]) == 0 {
			delete(d.breakpoints, file)
		}
	}
}

// ClearBreakpoints removes all breakpoints
func (d *Debugger) ClearBreakpoints() {
	d.breakpoints = make(map[string]map[int]*Breakpoint)
}

// GetBreakpoints returns all breakpoints
func (d *Debugger) GetBreakpoints() []*Breakpoint {
	var result []*Breakpoint
	for _, lineMap := range d.breakpoints {
		for _, bp := range lineMap {
			result = append(result, bp)
		}
	}
	return result
}

// normalizePath converts to an absolute path for consistent comparison
func normalizePath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// ShouldBreak checks if execution should break at the current location
func (d *Debugger) ShouldBreak(vm *VM) bool {
	if !d.Enabled {
		return false
	}

	if vm.frame == nil || vm.frame.proto == nil {
		return false
	}

	file := vm.frame.proto.Source
	if file == "" {
		file = vm.currentFile
	}
	if file == "" {
		return false
	}
	normalizedFile := normalizePath(file)

	line := 0
	if vm.frame.ip < len(vm.frame.proto.Lines) {
		line = vm.frame.proto.Lines[vm.frame.ip]
	}
	if line == 0 {
		return false
	}

	// Check if we moved from last stop (Step mode)
	if d.lastFile != "" && (d.lastFile != normalizedFile || d.lastLine != line) {
		d.lastFile = ""
		d.lastLine = 0
	}

	switch d.mode {
	case ModeStep:
		// Always break in step mode, but skip repeated instructions on the
		// same source line
		if d.lastFile == normalizedFile && d.lastLine == line {
			return false
		}
		d.lastFile = normalizedFile
		d.lastLine = line
		return true

	case ModeStepOver:
		// Break if we've returned from the function (frame depth decreased)
		if vm.frameCount < d.stepOverFrameDepth {
			d.mode = ModeRun
			return true
		}
		// Or if we are at the same depth but changed line/file
		if vm.frameCount == d.stepOverFrameDepth {
			if d.stepOverFile != "" && (d.stepOverFile != normalizedFile || d.stepOverLine != line) {
				d.mode = ModeRun
				d.lastFile = normalizedFile
				d.lastLine = line
				return true
			}
		}
		return false

	case ModeStepOut:
		if vm.frameCount < d.stepOutFrameDepth {
			d.mode = ModeRun
			d.lastFile = normalizedFile
			d.lastLine = line
			return true
		}
		return false

	case ModeContinue:
		for bpFile, lineMap := range d.breakpoints {
			if normalizePath(bpFile) == normalizedFile {
				if bp := lineMap[line]; bp != nil {
					// Skip if we just stopped at this breakpoint
					if d.lastBreakpointFile == normalizedFile && d.lastBreakpointLine == line {
						return false
					}
					if d.lastFile == normalizedFile && d.lastLine == line {
						return false
					}
					d.lastBreakpointFile = normalizedFile
					d.lastBreakpointLine = line
					d.lastFile = normalizedFile
					d.lastLine = line
					return true
				}
			}
		}
		if d.lastBreakpointFile != "" && (d.lastBreakpointFile != normalizedFile || d.lastBreakpointLine != line) {
			d.lastBreakpointFile = ""
			d.lastBreakpointLine = 0
		}
		return false

	case ModeRun:
		for bpFile, lineMap := range d.breakpoints {
			if normalizePath(bpFile) == normalizedFile {
				if bp := lineMap[line]; bp != nil {
					d.lastFile = normalizedFile
					d.lastLine = line
					return true
				}
			}
		}
		return false
	}

	return false
}

// Step sets debugger to step mode
func (d *Debugger) Step() {
	d.mode = ModeStep
	d.stepOverFrameDepth = 0
	d.stepOutFrameDepth = 0
}

// StepOver sets debugger to step over mode
func (d *Debugger) StepOver(vm *VM) {
	d.mode = ModeStepOver
	if vm != nil {
		d.stepOverFrameDepth = vm.frameCount
		file, line := d.GetCurrentLocation(vm)
		d.stepOverFile = normalizePath(file)
		d.stepOverLine = line
	}
	d.stepOutFrameDepth = 0
}

// StepOut sets debugger to step out mode
func (d *Debugger) StepOut(vm *VM) {
	d.mode = ModeStepOut
	if vm != nil {
		d.stepOutFrameDepth = vm.frameCount
	}
	d.stepOverFrameDepth = 0
}

// Continue sets debugger to continue mode (run until breakpoint)
func (d *Debugger) Continue() {
	d.mode = ModeContinue
	d.stepOverFrameDepth = 0
	d.stepOutFrameDepth = 0
	// Don't clear lastBreakpoint here - we need it to skip the current breakpoint
}

// Run sets debugger to run mode (no debugging)
func (d *Debugger) Run() {
	d.mode = ModeRun
	d.stepOverFrameDepth = 0
	d.stepOutFrameDepth = 0
}

// GetCurrentLocation returns the current file and line
func (d *Debugger) GetCurrentLocation(vm *VM) (file string, line int) {
	if vm.frame == nil || vm.frame.proto == nil {
		return "", 0
	}

	file = vm.frame.proto.Source
	if file == "" {
		file = vm.currentFile
	}
	if file == "" {
		file = "<script>"
	}

	if vm.frame.ip < len(vm.frame.proto.Lines) {
		line = vm.frame.proto.Lines[vm.frame.ip]
	}
	return file, line
}

// CallFrameInfo represents information about a call frame
type CallFrameInfo struct {
	Index        int
	FunctionName string
	File         string
	Line         int
}

// GetCallStack returns the current call stack, innermost frame first
func (d *Debugger) GetCallStack(vm *VM) []CallFrameInfo {
	var stack []CallFrameInfo

	for i := vm.frameCount - 1; i >= 0; i-- {
		frame := &vm.frames[i]
		info := CallFrameInfo{Index: i}

		if frame.closure != nil {
			info.FunctionName = frame.closure.Name()
		} else {
			info.FunctionName = "<script>"
		}

		if frame.proto != nil {
			info.File = frame.proto.Source
			if info.File == "" {
				info.File = vm.currentFile
			}
			if info.File == "" {
				info.File = "<script>"
			}

			// For parent frames, use the call site rather than the return
			// address
			targetIP := frame.ip
			if i < vm.frameCount-1 && targetIP > 0 {
				targetIP--
			}
			if targetIP < len(frame.proto.Lines) {
				info.Line = frame.proto.Lines[targetIP]
			}
		}

		stack = append(stack, info)
	}

	return stack
}

// GetLocals returns local variables for a frame at the given level
// (0 = innermost). Names come from debug info when the bundle kept it.
func (d *Debugger) GetLocals(vm *VM, level int) map[string]Value {
	locals := make(map[string]Value)

	frame := vm.FrameAt(level)
	if frame == nil || frame.proto == nil {
		return locals
	}

	for slot := 0; frame.base+slot < frame.top; slot++ {
		if frame.base+slot >= len(vm.stack) {
			break
		}
		locals[frame.proto.LocalName(slot)] = vm.stack[frame.base+slot]
	}

	return locals
}

// GetGlobals returns global variables, skipping host-function bindings
func (d *Debugger) GetGlobals(vm *VM) map[string]Value {
	globals := make(map[string]Value)
	for name, val := range vm.globals {
		if val.IsFunction() && val.AsClosure() != nil && val.AsClosure().IsNative() {
			continue
		}
		globals[name] = val
	}
	return globals
}

// GetStack returns the current operand stack contents, bottom first
func (d *Debugger) GetStack(vm *VM) []Value {
	var stack []Value
	for i := 0; i < vm.sp && i < len(vm.stack); i++ {
		stack = append(stack, vm.stack[i])
	}
	return stack
}

// FormatLocation formats a file:line location string.
// Prefers relative paths for display (for readability)
func (d *Debugger) FormatLocation(file string, line int) string {
	displayFile := file
	if wd, err := os.Getwd(); err == nil {
		if abs, err := filepath.Abs(file); err == nil {
			if rel, err := filepath.Rel(wd, abs); err == nil && !strings.HasPrefix(rel, "..") {
				displayFile = rel
			} else {
				displayFile = abs
			}
		}
	}

	if line > 0 {
		return fmt.Sprintf("%s:%d", displayFile, line)
	}
	return displayFile
}

// PrintLocation prints the current location
func (d *Debugger) PrintLocation(vm *VM) {
	file, line := d.GetCurrentLocation(vm)

	if vm.frameCount == 1 && vm.frame != nil && vm.frame.ip <= 1 {
		fmt.Fprintf(d.Output, "Breakpoint at %s (program start)\n", d.FormatLocation(file, line))
		return
	}
	fmt.Fprintf(d.Output, "Breakpoint at %s\n", d.FormatLocation(file, line))
}

// PrintCallStack prints the call stack
func (d *Debugger) PrintCallStack(vm *VM) {
	stack := d.GetCallStack(vm)
	fmt.Fprintf(d.Output, "Call stack:\n")
	for i, frame := range stack {
		indent := strings.Repeat("  ", i)
		loc := d.FormatLocation(frame.File, frame.Line)
		fmt.Fprintf(d.Output, "%s%d. %s at %s\n", indent, i+1, frame.FunctionName, loc)
	}
}

// PrintLocals prints local variables of the innermost frame
func (d *Debugger) PrintLocals(vm *VM) {
	locals := d.GetLocals(vm, 0)
	if len(locals) == 0 {
		fmt.Fprintf(d.Output, "No local variables in current scope.\n")
		return
	}
	fmt.Fprintf(d.Output, "Local variables:\n")
	var names []string
	for name := range locals {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(d.Output, "  %s = %s\n", name, locals[name].Inspect())
	}
}

// PrintGlobals prints global variables
func (d *Debugger) PrintGlobals(vm *VM) {
	globals := d.GetGlobals(vm)
	if len(globals) == 0 {
		fmt.Fprintf(d.Output, "No user-defined global variables.\n")
		return
	}
	fmt.Fprintf(d.Output, "Global variables:\n")
	var names []string
	for name := range globals {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(d.Output, "  %s = %s\n", name, globals[name].Inspect())
	}
}

// PrintStack prints the operand stack
func (d *Debugger) PrintStack(vm *VM) {
	stack := d.GetStack(vm)
	fmt.Fprintf(d.Output, "Stack (top to bottom):\n")
	for i := len(stack) - 1; i >= 0; i-- {
		fmt.Fprintf(d.Output, "  [%d] %s\n", i, stack[i].Inspect())
	}
}
