package vm

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable representation of a function
// template: its bytecode, its constant pool, and its nested templates
// (recursively).
func Disassemble(p *Proto, name string) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("== %s ==\n", name))

	offset := 0
	for offset < len(p.Code) {
		offset = disassembleInstruction(&sb, p, offset)
	}

	if len(p.Constants) > 0 {
		sb.WriteString(fmt.Sprintf("constants (%d):\n", len(p.Constants)))
		for i, c := range p.Constants {
			sb.WriteString(fmt.Sprintf("  [%d] %s\n", i, c.Inspect()))
		}
	}

	for i, np := range p.Protos {
		childName := np.Name
		if childName == "" {
			childName = fmt.Sprintf("%s.proto[%d]", name, i)
		}
		child := Disassemble(np, childName)
		indented := strings.ReplaceAll(strings.TrimRight(child, "\n"), "\n", "\n    | ")
		sb.WriteString("    | " + indented + "\n")
	}

	return sb.String()
}

func disassembleInstruction(sb *strings.Builder, p *Proto, offset int) int {
	sb.WriteString(fmt.Sprintf("%04d ", offset))

	if offset > 0 && p.Lines[offset] == p.Lines[offset-1] {
		sb.WriteString("   | ")
	} else {
		sb.WriteString(fmt.Sprintf("%4d ", p.Lines[offset]))
	}

	op := Opcode(p.Code[offset])

	switch op {
	case OP_CONST:
		return constantInstruction(sb, "CONST", p, offset)

	case OP_GET_GLOBAL:
		return constantInstruction(sb, "GET_GLOBAL", p, offset)
	case OP_SET_GLOBAL:
		return constantInstruction(sb, "SET_GLOBAL", p, offset)

	case OP_GET_LOCAL:
		return byteInstruction(sb, "GET_LOCAL", p, offset)
	case OP_SET_LOCAL:
		return byteInstruction(sb, "SET_LOCAL", p, offset)
	case OP_GET_UPVALUE:
		return byteInstruction(sb, "GET_UPVALUE", p, offset)
	case OP_SET_UPVALUE:
		return byteInstruction(sb, "SET_UPVALUE", p, offset)
	case OP_CALL:
		return byteInstruction(sb, "CALL", p, offset)

	case OP_JUMP:
		return jumpInstruction(sb, "JUMP", 1, p, offset)
	case OP_JUMP_IF_FALSE:
		return jumpInstruction(sb, "JUMP_IF_FALSE", 1, p, offset)
	case OP_LOOP:
		return jumpInstruction(sb, "LOOP", -1, p, offset)

	case OP_CLOSURE:
		return closureInstruction(sb, p, offset)

	default:
		if name, ok := OpcodeNames[op]; ok {
			return simpleInstruction(sb, name, offset)
		}
		sb.WriteString(fmt.Sprintf("Unknown opcode %d\n", op))
		return offset + 1
	}
}

func simpleInstruction(sb *strings.Builder, name string, offset int) int {
	sb.WriteString(fmt.Sprintf("%s\n", name))
	return offset + 1
}

func constantInstruction(sb *strings.Builder, name string, p *Proto, offset int) int {
	idx := p.ReadUint16(offset + 1)

	if idx < len(p.Constants) {
		sb.WriteString(fmt.Sprintf("%-16s %4d '%s'\n", name, idx, p.Constants[idx].Inspect()))
	} else {
		sb.WriteString(fmt.Sprintf("%-16s %4d (invalid)\n", name, idx))
	}

	return offset + 3
}

func byteInstruction(sb *strings.Builder, name string, p *Proto, offset int) int {
	slot := p.Code[offset+1]
	sb.WriteString(fmt.Sprintf("%-16s %4d\n", name, slot))
	return offset + 2
}

func jumpInstruction(sb *strings.Builder, name string, sign int, p *Proto, offset int) int {
	jump := p.ReadUint16(offset + 1)
	target := offset + 3 + sign*jump
	sb.WriteString(fmt.Sprintf("%-16s %4d -> %d\n", name, jump, target))
	return offset + 3
}

func closureInstruction(sb *strings.Builder, p *Proto, offset int) int {
	idx := p.ReadUint16(offset + 1)
	offset += 3

	if idx >= len(p.Protos) {
		sb.WriteString(fmt.Sprintf("%-16s %4d (invalid)\n", "CLOSURE", idx))
		return offset
	}

	np := p.Protos[idx]
	sb.WriteString(fmt.Sprintf("%-16s %4d '%s'\n", "CLOSURE", idx, np.Name))

	// Upvalue descriptor bytes follow the operand
	for i := 0; i < np.UpvalueCount; i++ {
		isLocal := p.Code[offset]
		index := p.Code[offset+1]
		offset += 2

		localStr := "upvalue"
		if isLocal == 1 {
			localStr = "local"
		}
		sb.WriteString(fmt.Sprintf("%04d    |                     %s %d\n", offset-2, localStr, index))
	}

	return offset
}
