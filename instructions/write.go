package instructions

import (
	"strconv"
	"strings"

	"github.com/wippyai/casegen/decl"
	"github.com/wippyai/casegen/formatter"
)

// Write emits the complete instruction: stack reads, the body, the stack
// pointer adjustment and stack writes. Tier one also skips the inline
// cache entries.
func (in *Instruction) Write(out Sink, tier Tier) {
	out.StaticAssertFamilySize(in.Name, in.family, in.CacheOffset)

	inputs := reversed(in.InputEffects)
	for i, ieff := range inputs {
		isize := formatter.MaybeParenthesize(formatter.ListSizeString(inputs[:i+1]))
		var src decl.StackEffect
		switch {
		case ieff.Size != "":
			src = decl.StackEffect{Name: "(stack_pointer - " + isize + ")", Type: "PyObject **"}
		case ieff.Cond != "":
			src = decl.StackEffect{Name: "(" + ieff.Cond + ") ? stack_pointer[-" + isize + "] : NULL"}
		default:
			src = decl.StackEffect{Name: "stack_pointer[-" + isize + "]"}
		}
		out.Declare(ieff, &src)
	}

	inputNames := make(map[string]bool, len(in.InputEffects))
	for _, ieff := range in.InputEffects {
		inputNames[ieff.Name] = true
	}
	for i, oeff := range in.OutputEffects {
		if inputNames[oeff.Name] {
			continue
		}
		if oeff.Size != "" {
			isize := formatter.ListSizeString(in.InputEffects)
			osize := formatter.ListSizeString(in.OutputEffects[:i])
			loc := "stack_pointer"
			if isize != osize {
				if isize != "0" {
					loc += " - (" + isize + ")"
				}
				if osize != "0" {
					loc += " + " + osize
				}
			}
			src := decl.StackEffect{Name: loc, Type: "PyObject **"}
			out.Declare(oeff, &src)
			continue
		}
		out.Declare(oeff, nil)
	}

	in.WriteBody(out, 0, in.ActiveCaches, tier)

	if in.AlwaysExits {
		return
	}

	out.StackAdjust(in.InputEffects, in.OutputEffects)

	outputs := reversed(in.OutputEffects)
	for i, oeff := range outputs {
		if in.IsUnmoved(oeff.Name) {
			continue
		}
		osize := formatter.MaybeParenthesize(formatter.ListSizeString(outputs[:i+1]))
		var dst decl.StackEffect
		if oeff.Size != "" {
			dst = decl.StackEffect{Name: "stack_pointer - " + osize, Type: "PyObject **"}
		} else {
			dst = decl.StackEffect{Name: "stack_pointer[-" + osize + "]"}
		}
		out.Assign(dst, oeff)
	}

	if tier == TierOne && in.CacheOffset > 0 {
		out.Emit("next_instr += " + strconv.Itoa(in.CacheOffset) + ";")
	}
}

// WriteBody emits the cache reads and the rewritten body lines, each
// shifted right by extraIndent spaces. active gives the cache effects
// with offsets relative to the enclosing instruction.
func (in *Instruction) WriteBody(out Sink, extraIndent int, active []ActiveCacheEffect, tier Tier) {
	for _, ac := range active {
		out.Emit(cacheRead(ac, tier))
	}

	extra := strings.Repeat(" ", extraIndent)
	for offset, line := range in.BlockText {
		out.SetLineno(in.BlockLine+offset, in.Filename)
		switch l := RewriteLine(line).(type) {
		case ErrorIfLine:
			in.writeErrorIf(out, extra+l.Indent, l)
		case DecrefInputsLine:
			out.ResetLineno()
			in.writeDecrefInputs(out, extra+l.Indent)
		case VerbatimLine:
			out.WriteRaw(extra + l.Text)
		}
	}
	out.ResetLineno()
}

// cacheRead declares the local for one cache effect. Four code units
// hold an object pointer, anything else is an unsigned integer.
func cacheRead(ac ActiveCacheEffect, tier Tier) string {
	bits := ac.Effect.Size * BitsPerCodeUnit
	typ, fn := "uint"+strconv.Itoa(bits)+"_t ", "read_u"+strconv.Itoa(bits)
	if bits == 64 {
		typ, fn = "PyObject *", "read_obj"
	}
	if tier == TierTwo {
		return typ + ac.Effect.Name + " = (" + strings.TrimSpace(typ) + ")operand;"
	}
	return typ + ac.Effect.Name + " = " + fn + "(&next_instr[" + strconv.Itoa(ac.Offset) + "].cache);"
}

// writeErrorIf turns ERROR_IF into a jump to the label that also pops
// the inputs still on the stack. Leading inputs that come back out
// unchanged are not counted.
func (in *Instruction) writeErrorIf(out Sink, space string, l ErrorIfLine) {
	inputs, outputs := in.InputEffects, in.OutputEffects
	for len(inputs) > 0 && len(outputs) > 0 && inputs[0] == outputs[0] {
		inputs, outputs = inputs[1:], outputs[1:]
	}

	label := l.Label
	n, symbolic := formatter.ListEffectSize(inputs)
	if n > 0 {
		label = "pop_" + strconv.Itoa(n) + "_" + label
	}
	if symbolic != "" {
		out.WriteRaw(space + "if (" + l.Cond + ") { STACK_SHRINK(" + symbolic + "); goto " + label + "; }\n")
		return
	}
	out.WriteRaw(space + "if (" + l.Cond + ") goto " + label + ";\n")
}

// writeDecrefInputs releases every input that is not passed through.
func (in *Instruction) writeDecrefInputs(out Sink, space string) {
	for _, ieff := range in.InputEffects {
		if ieff.Name == decl.Unused || ieff.Name == "null" || in.IsUnmoved(ieff.Name) {
			continue
		}
		switch {
		case ieff.Size != "":
			out.WriteRaw(space + "for (int _i = " + ieff.Size + "; --_i >= 0;) {\n")
			out.WriteRaw(space + "    Py_DECREF(" + ieff.Name + "[_i]);\n")
			out.WriteRaw(space + "}\n")
		case ieff.Cond != "":
			out.WriteRaw(space + "Py_XDECREF(" + ieff.Name + ");\n")
		default:
			out.WriteRaw(space + "Py_DECREF(" + ieff.Name + ");\n")
		}
	}
}

func reversed(effects []decl.StackEffect) []decl.StackEffect {
	out := make([]decl.StackEffect, len(effects))
	for i, e := range effects {
		out[len(effects)-1-i] = e
	}
	return out
}
