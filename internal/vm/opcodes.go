// Package vm implements the lune-but-weird bytecode virtual machine and
// its debug-introspection layer.
package vm

// Opcode represents a single VM instruction
type Opcode byte

const (
	// Stack manipulation
	OP_CONST Opcode = iota // Push constant from pool
	OP_POP                 // Discard top of stack
	OP_DUP                 // Duplicate top of stack

	// Arithmetic
	OP_ADD // +
	OP_SUB // -
	OP_MUL // *
	OP_DIV // /
	OP_MOD // %
	OP_NEG // Unary minus

	// String operations
	OP_CONCAT // ..

	// Comparison
	OP_EQ // ==
	OP_NE // ~=
	OP_LT // <
	OP_LE // <=
	OP_GT // >
	OP_GE // >=

	// Logic
	OP_NOT // not

	// Variables
	OP_GET_LOCAL  // Get local variable by slot
	OP_SET_LOCAL  // Set local variable by slot
	OP_GET_GLOBAL // Get global variable by name constant
	OP_SET_GLOBAL // Set global variable by name constant

	// Control flow
	OP_JUMP          // Unconditional forward jump
	OP_JUMP_IF_FALSE // Jump forward if top of stack is false/nil
	OP_LOOP          // Jump backward

	// Functions
	OP_CALL   // Call function
	OP_RETURN // Return from function

	// Closures
	OP_CLOSURE       // Create closure over nested proto
	OP_GET_UPVALUE   // Get captured variable
	OP_SET_UPVALUE   // Set captured variable
	OP_CLOSE_UPVALUE // Close upvalue when leaving scope

	// Special
	OP_NIL   // Push nil
	OP_TRUE  // Push true
	OP_FALSE // Push false

	// Halt
	OP_HALT // Stop execution
)

// OpcodeNames maps opcodes to their string names (for debugging)
var OpcodeNames = map[Opcode]string{
	OP_CONST: "CONST",
	OP_POP:   "POP",
	OP_DUP:   "DUP",

	OP_ADD: "ADD",
	OP_SUB: "SUB",
	OP_MUL: "MUL",
	OP_DIV: "DIV",
	OP_MOD: "MOD",
	OP_NEG: "NEG",

	OP_CONCAT: "CONCAT",

	OP_EQ: "EQ",
	OP_NE: "NE",
	OP_LT: "LT",
	OP_LE: "LE",
	OP_GT: "GT",
	OP_GE: "GE",

	OP_NOT: "NOT",

	OP_GET_LOCAL:  "GET_LOCAL",
	OP_SET_LOCAL:  "SET_LOCAL",
	OP_GET_GLOBAL: "GET_GLOBAL",
	OP_SET_GLOBAL: "SET_GLOBAL",

	OP_JUMP:          "JUMP",
	OP_JUMP_IF_FALSE: "JUMP_IF_FALSE",
	OP_LOOP:          "LOOP",

	OP_CALL:   "CALL",
	OP_RETURN: "RETURN",

	OP_CLOSURE:       "CLOSURE",
	OP_GET_UPVALUE:   "GET_UPVALUE",
	OP_SET_UPVALUE:   "SET_UPVALUE",
	OP_CLOSE_UPVALUE: "CLOSE_UPVALUE",

	OP_NIL:   "NIL",
	OP_TRUE:  "TRUE",
	OP_FALSE: "FALSE",

	OP_HALT: "HALT",
}
