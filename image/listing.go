package image

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/ilvm/metadata"
	"github.com/chazu/ilvm/pkg/cil"
)

// Namer renders operand tokens of mod by name.
func Namer(mod *metadata.Module) cil.TokenNamer {
	return func(_ cil.Opcode, tok uint32) string {
		switch tok & 0xFF000000 {
		case metadata.TokenMethod:
			if m, err := mod.ResolveMethod(tok); err == nil {
				return m.FullName()
			}
		case metadata.TokenField:
			if f, err := mod.ResolveField(tok); err == nil {
				return f.String()
			}
		case metadata.TokenType:
			if t, err := mod.ResolveType(tok); err == nil {
				return t.String()
			}
		case metadata.TokenString:
			if s, err := mod.ResolveString(tok); err == nil {
				return strconv.Quote(s)
			}
		}
		return fmt.Sprintf("0x%08x", tok)
	}
}

// DisassembleMethod lists one method of mod.
func DisassembleMethod(mod *metadata.Module, m *metadata.Method) string {
	var sb strings.Builder
	writeMethod(&sb, Namer(mod), m)
	return sb.String()
}

// Disassemble lists every class of mod.
func Disassemble(mod *metadata.Module) string {
	names := Namer(mod)
	var sb strings.Builder
	fmt.Fprintf(&sb, ".module %s\n", mod.Name)
	for _, c := range mod.Classes {
		sb.WriteString("\n.class ")
		sb.WriteString(c.FullName())
		if c.Parent != nil {
			sb.WriteString(" extends ")
			sb.WriteString(c.Parent.FullName())
		}
		sb.WriteString("\n")
		for _, f := range c.Fields {
			static := ""
			if f.IsStatic() {
				static = "static "
			}
			fmt.Fprintf(&sb, "  .field %s%s %s\n", static, f.Type, f.Name)
		}
		for _, m := range c.Methods {
			writeMethod(&sb, names, m)
		}
	}
	return sb.String()
}

func writeMethod(sb *strings.Builder, names cil.TokenNamer, m *metadata.Method) {
	fmt.Fprintf(sb, "  .method %s\n", m.FullName())
	if m.Body == nil {
		sb.WriteString("    // no body\n")
		return
	}
	fmt.Fprintf(sb, "    .maxstack %d\n", m.Body.MaxStack)
	if len(m.Body.Locals) > 0 {
		locals := make([]string, len(m.Body.Locals))
		for i, l := range m.Body.Locals {
			locals[i] = l.String()
		}
		fmt.Fprintf(sb, "    .locals (%s)\n", strings.Join(locals, ", "))
	}
	for _, line := range strings.Split(cil.Disassemble(m.Body.Code, names), "\n") {
		if line != "" {
			sb.WriteString("    ")
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}
	for _, h := range m.Body.Handlers {
		kind := [...]string{"catch", "finally", "fault"}[h.Kind]
		if h.Class != nil {
			kind += " " + h.Class.FullName()
		}
		fmt.Fprintf(sb, "    .try IL_%04x to IL_%04x %s handler IL_%04x to IL_%04x\n",
			h.TryOffset, h.TryOffset+h.TryLength, kind, h.HandlerOffset, h.HandlerOffset+h.HandlerLength)
	}
}
