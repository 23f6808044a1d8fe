package vm

import (
	"fmt"
	"math"
	"strconv"
)

// ValueType identifies the type of value stored in the Value struct
type ValueType uint8

const (
	ValNil ValueType = iota
	ValBool
	ValNumber
	ValString
	ValFunction
)

// Name returns the script-level name of the type
func (t ValueType) Name() string {
	switch t {
	case ValNil:
		return "nil"
	case ValBool:
		return "boolean"
	case ValNumber:
		return "number"
	case ValString:
		return "string"
	case ValFunction:
		return "function"
	default:
		return "unknown"
	}
}

// Value is a stack-allocated tagged union.
// It avoids heap allocation for nil, booleans and numbers; strings ride in
// the Str slot and functions in an unexported closure pointer. Mutation is
// always a full tagged overwrite, never a partial one.
type Value struct {
	Type ValueType
	Data uint64 // float64 bits for numbers, 0/1 for booleans
	Str  string
	fn   *Closure
}

// Constructors

func NilVal() Value {
	return Value{Type: ValNil}
}

func BoolVal(v bool) Value {
	var data uint64
	if v {
		data = 1
	}
	return Value{Type: ValBool, Data: data}
}

func NumberVal(v float64) Value {
	return Value{Type: ValNumber, Data: math.Float64bits(v)}
}

func StringVal(s string) Value {
	return Value{Type: ValString, Str: s}
}

func ClosureVal(c *Closure) Value {
	return Value{Type: ValFunction, fn: c}
}

// Accessors

func (v Value) AsBool() bool {
	return v.Data == 1
}

func (v Value) AsNumber() float64 {
	return math.Float64frombits(v.Data)
}

func (v Value) AsString() string {
	return v.Str
}

// AsClosure returns the closure payload, or nil for non-function values
func (v Value) AsClosure() *Closure {
	return v.fn
}

// Type checking helpers

func (v Value) IsNil() bool      { return v.Type == ValNil }
func (v Value) IsBool() bool     { return v.Type == ValBool }
func (v Value) IsNumber() bool   { return v.Type == ValNumber }
func (v Value) IsString() bool   { return v.Type == ValString }
func (v Value) IsFunction() bool { return v.Type == ValFunction }

// IsTruthy follows the scripting-language rule: nil and false are falsy,
// everything else (including 0 and "") is truthy.
func (v Value) IsTruthy() bool {
	if v.Type == ValNil {
		return false
	}
	if v.Type == ValBool {
		return v.Data == 1
	}
	return true
}

// Equals compares tag and payload
func (v Value) Equals(other Value) bool {
	if v.Type != other.Type {
		return false
	}
	switch v.Type {
	case ValNil:
		return true
	case ValBool:
		return v.Data == other.Data
	case ValNumber:
		return v.AsNumber() == other.AsNumber()
	case ValString:
		return v.Str == other.Str
	case ValFunction:
		return v.fn == other.fn
	default:
		return false
	}
}

// Inspect returns string representation
func (v Value) Inspect() string {
	switch v.Type {
	case ValNil:
		return "nil"
	case ValBool:
		return strconv.FormatBool(v.Data == 1)
	case ValNumber:
		return strconv.FormatFloat(v.AsNumber(), 'g', -1, 64)
	case ValString:
		return fmt.Sprintf("%q", v.Str)
	case ValFunction:
		if v.fn != nil {
			return v.fn.Inspect()
		}
		return "<nil function>"
	default:
		return "<?>"
	}
}
