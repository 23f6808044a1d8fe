package vm

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

func init() {
	gob.Register(&Bundle{})
	gob.Register(&Proto{})
}

// Bundle is the on-disk form of a compiled program: the entry function
// template with its whole nested-template tree, plus source metadata for
// error messages and breakpoints. Constants in serialized templates are
// primitives only; function values are reconstructed at run time from the
// nested-template table.
type Bundle struct {
	// Main is the entry function template
	Main *Proto

	// SourceFile is the original source file path (for error messages)
	SourceFile string
}

const bytecodeVersion byte = 0x01

// Magic number prefixing serialized bundles: "LBWB"
var bundleMagic = [4]byte{'L', 'B', 'W', 'B'}

// Serialize converts a Bundle to binary format.
// Format:
// - Magic number (4 bytes): "LBWB"
// - Version (1 byte): 0x01
// - Gob-encoded Bundle data
func (b *Bundle) Serialize() ([]byte, error) {
	buf := new(bytes.Buffer)

	buf.Write(bundleMagic[:])
	buf.WriteByte(bytecodeVersion)

	enc := gob.NewEncoder(buf)
	if err := enc.Encode(b); err != nil {
		return nil, fmt.Errorf("bundle gob encoding failed: %w", err)
	}

	return buf.Bytes(), nil
}

// Deserialize reads bundle data produced by Serialize
func Deserialize(data []byte) (*Bundle, error) {
	if len(data) < 5 {
		return nil, fmt.Errorf("bytecode data too short")
	}

	if !bytes.Equal(data[:4], bundleMagic[:]) {
		return nil, fmt.Errorf("invalid magic number, expected LBWB")
	}

	version := data[4]
	if version != bytecodeVersion {
		return nil, fmt.Errorf("unsupported bytecode version: %d (this binary supports version %d)",
			version, bytecodeVersion)
	}

	dec := gob.NewDecoder(bytes.NewReader(data[5:]))
	var bundle Bundle
	if err := dec.Decode(&bundle); err != nil {
		return nil, fmt.Errorf("gob decoding failed: %w", err)
	}

	if err := bundle.Validate(); err != nil {
		return nil, fmt.Errorf("bundle validation failed: %w", err)
	}
	return &bundle, nil
}

// Validate checks the structural integrity of a deserialized bundle
func (b *Bundle) Validate() error {
	if b.Main == nil {
		return fmt.Errorf("bundle has nil entry template")
	}
	if len(b.Main.Code) == 0 {
		return fmt.Errorf("bundle has empty bytecode")
	}
	return validateProto(b.Main, "main")
}

func validateProto(p *Proto, path string) error {
	if len(p.Lines) != len(p.Code) {
		return fmt.Errorf("%s: line table length %d does not match code length %d",
			path, len(p.Lines), len(p.Code))
	}
	for _, c := range p.Constants {
		if c.IsFunction() {
			return fmt.Errorf("%s: function value in constant pool", path)
		}
	}
	if p.MaxStack < p.NumParams {
		return fmt.Errorf("%s: register window %d smaller than parameter count %d",
			path, p.MaxStack, p.NumParams)
	}
	for i, np := range p.Protos {
		if np == nil {
			return fmt.Errorf("%s: nil nested template at index %d", path, i)
		}
		if err := validateProto(np, fmt.Sprintf("%s.proto[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}

// RunBundle creates a VM and executes a bundle. Errors are returned, not printed.
func RunBundle(bundle *Bundle) (Value, error) {
	machine := New()
	if bundle.SourceFile != "" {
		machine.SetCurrentFile(bundle.SourceFile)
	}
	return machine.Run(bundle.Main)
}
