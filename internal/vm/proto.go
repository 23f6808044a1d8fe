package vm

import "fmt"

// Proto is the compiled, shareable body of a script function: bytecode, the
// constant pool referenced by that bytecode, and the table of nested
// function templates. Multiple closures may share one Proto; closures over
// the same function literal differ only in captured environment.
type Proto struct {
	// Code is the bytecode instructions
	Code []byte

	// Constants pool - literals referenced by compiled bytecode
	Constants []Value

	// Protos holds templates for function literals nested in this body
	Protos []*Proto

	// UpvalueCount is the number of upvalues closures over this proto capture
	UpvalueCount int

	// NumParams is the declared parameter count
	NumParams int

	// MaxStack is the size of a frame's register window (params included)
	MaxStack int

	// Lines maps bytecode offset to source line number (for errors)
	Lines []int

	// LocalNames maps register slot to variable name, when debug info was kept
	LocalNames []string

	// Name is the function name (for diagnostics)
	Name string

	// Source is the originating file name
	Source string
}

// NewProto creates a new empty proto
func NewProto(name string) *Proto {
	return &Proto{
		Code:      make([]byte, 0, 64),
		Constants: make([]Value, 0, 8),
		Lines:     make([]int, 0, 64),
		Name:      name,
		MaxStack:  1,
	}
}

// Emit appends a raw byte with line info
func (p *Proto) Emit(b byte, line int) {
	p.Code = append(p.Code, b)
	p.Lines = append(p.Lines, line)
}

// EmitOp appends an opcode
func (p *Proto) EmitOp(op Opcode, line int) {
	p.Emit(byte(op), line)
}

// EmitUint16 appends a 2-byte big-endian operand
func (p *Proto) EmitUint16(v int, line int) {
	p.Emit(byte(v>>8), line)
	p.Emit(byte(v), line)
}

// AddConstant adds a constant to the pool and returns its index
func (p *Proto) AddConstant(v Value) int {
	p.Constants = append(p.Constants, v)
	return len(p.Constants) - 1
}

// AddProto adds a nested function template and returns its index
func (p *Proto) AddProto(np *Proto) int {
	p.Protos = append(p.Protos, np)
	return len(p.Protos) - 1
}

// EmitConstant adds v to the pool and emits OP_CONST for it
func (p *Proto) EmitConstant(v Value, line int) {
	idx := p.AddConstant(v)
	p.EmitOp(OP_CONST, line)
	p.EmitUint16(idx, line)
}

// ReadUint16 reads a 2-byte big-endian operand at offset
func (p *Proto) ReadUint16(offset int) int {
	return int(p.Code[offset])<<8 | int(p.Code[offset+1])
}

// Len returns the number of bytes of bytecode
func (p *Proto) Len() int {
	return len(p.Code)
}

// LocalName returns the debug name for a register slot, or "slotN"
func (p *Proto) LocalName(slot int) string {
	if slot >= 0 && slot < len(p.LocalNames) && p.LocalNames[slot] != "" {
		return p.LocalNames[slot]
	}
	return fmt.Sprintf("slot%d", slot)
}
