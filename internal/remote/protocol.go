// Package remote exposes the debug-introspection operations over a
// WebSocket endpoint, so external debugger frontends can inspect and patch
// a running program.
package remote

import (
	"fmt"

	"github.com/rex-rbx/lune-but-weird/internal/vm"
)

// Operation names accepted in requests
const (
	OpGetConstant      = "get_constant"
	OpGetConstantCount = "get_constant_count"
	OpSetConstant      = "set_constant"
	OpGetProto         = "get_proto"
	OpGetProtoCount    = "get_proto_count"
	OpGetStackValue    = "get_stack_value"
	OpSetStackValue    = "set_stack_value"
	OpCallDepth        = "call_depth"
	OpBacktrace        = "backtrace"
)

// Request is one debug operation sent by a client
type Request struct {
	// ID is echoed back in the response for request/response matching
	ID string `json:"id"`

	// Op is one of the operation names above
	Op string `json:"op"`

	// FuncIndex addresses a function on the operand stack (constant and
	// template operations)
	FuncIndex int `json:"func_index,omitempty"`

	// Index is the constant/template/register index
	Index int `json:"index,omitempty"`

	// Level is the call-frame level for stack operations (0 = innermost)
	Level int `json:"level,omitempty"`

	// Activated is forwarded to the template accessor
	Activated bool `json:"activated,omitempty"`

	// Value is the staged input for write operations
	Value *WireValue `json:"value,omitempty"`
}

// Response is the result of one debug operation
type Response struct {
	ID      string      `json:"id"`
	OK      bool        `json:"ok"`
	Value   *WireValue  `json:"value,omitempty"`
	Count   int         `json:"count,omitempty"`
	Frames  []WireFrame `json:"frames,omitempty"`
	Session string      `json:"session,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// WireFrame is one call-stack entry in a backtrace response
type WireFrame struct {
	Level    int    `json:"level"`
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

// WireValue is the JSON rendering of a VM value. Functions cross the wire
// as their diagnostic string only; they cannot be staged back in.
type WireValue struct {
	Type   string  `json:"type"`
	Number float64 `json:"number,omitempty"`
	String string  `json:"string,omitempty"`
	Bool   bool    `json:"bool,omitempty"`
}

// ToWire converts a VM value for transmission
func ToWire(v vm.Value) *WireValue {
	switch v.Type {
	case vm.ValNil:
		return &WireValue{Type: "nil"}
	case vm.ValBool:
		return &WireValue{Type: "boolean", Bool: v.AsBool()}
	case vm.ValNumber:
		return &WireValue{Type: "number", Number: v.AsNumber()}
	case vm.ValString:
		return &WireValue{Type: "string", String: v.AsString()}
	case vm.ValFunction:
		return &WireValue{Type: "function", String: v.Inspect()}
	default:
		return &WireValue{Type: "unknown"}
	}
}

// FromWire converts a received value back to a VM value
func (w *WireValue) FromWire() (vm.Value, error) {
	switch w.Type {
	case "nil":
		return vm.NilVal(), nil
	case "boolean":
		return vm.BoolVal(w.Bool), nil
	case "number":
		return vm.NumberVal(w.Number), nil
	case "string":
		return vm.StringVal(w.String), nil
	case "function":
		return vm.NilVal(), fmt.Errorf("function values cannot be staged over the wire")
	default:
		return vm.NilVal(), fmt.Errorf("unknown wire value type %q", w.Type)
	}
}
