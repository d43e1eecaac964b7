// Package flags computes the boolean property set of an instruction
// definition from its token stream.
package flags

import (
	"strconv"
	"strings"

	"github.com/wippyai/casegen/decl"
	"github.com/wippyai/casegen/internal/lexer"
)

// Flags is a bit-set of instruction properties.
type Flags uint16

const (
	HasArg Flags = 1 << iota
	HasConst
	HasName
	HasJump
	HasFree
	HasLocal
	HasEvalBreak
	HasDeopt
	HasError
)

// all lists every flag in bit order with its C macro name.
var all = []struct {
	flag Flags
	name string
}{
	{HasArg, "HAS_ARG_FLAG"},
	{HasConst, "HAS_CONST_FLAG"},
	{HasName, "HAS_NAME_FLAG"},
	{HasJump, "HAS_JUMP_FLAG"},
	{HasFree, "HAS_FREE_FLAG"},
	{HasLocal, "HAS_LOCAL_FLAG"},
	{HasEvalBreak, "HAS_EVAL_BREAK_FLAG"},
	{HasDeopt, "HAS_DEOPT_FLAG"},
	{HasError, "HAS_ERROR_FLAG"},
}

// FromInstDef derives the flag set from a definition's body and the
// expressions in its stack effects.
func FromInstDef(def *decl.InstDef) Flags {
	toks := def.Tokens()
	var f Flags

	hasFree := VariableUsed(toks, "PyCell_New") ||
		VariableUsed(toks, "PyCell_GET") ||
		VariableUsed(toks, "PyCell_SET")

	f.set(HasArg, VariableUsed(toks, "oparg"))
	f.set(HasConst, VariableUsed(toks, "FRAME_CO_CONSTS"))
	f.set(HasName, VariableUsed(toks, "FRAME_CO_NAMES"))
	f.set(HasJump, VariableUsed(toks, "JUMPBY"))
	f.set(HasFree, hasFree)
	f.set(HasLocal, (VariableUsed(toks, "SETLOCAL") || VariableUsed(toks, "GETLOCAL")) && !hasFree)
	f.set(HasEvalBreak, VariableUsed(toks, "CHECK_EVAL_BREAKER"))
	f.set(HasDeopt, VariableUsed(toks, "DEOPT_IF"))
	f.set(HasError, VariableUsed(toks, "ERROR_IF") ||
		VariableUsed(toks, "error") ||
		VariableUsed(toks, "pop_1_error") ||
		VariableUsed(toks, "exception_unwind") ||
		VariableUsed(toks, "resume_with_error"))
	return f
}

func (f *Flags) set(flag Flags, on bool) {
	if on {
		*f |= flag
	}
}

// Has reports whether every bit of flag is set.
func (f Flags) Has(flag Flags) bool {
	return f&flag == flag
}

// Add merges other into f.
func (f *Flags) Add(other Flags) {
	*f |= other
}

// Bitmap returns f without the ignored bits.
func (f Flags) Bitmap(ignore Flags) Flags {
	return f &^ ignore
}

// Names returns the C macro names of the set bits in bit order.
func (f Flags) Names() []string {
	var names []string
	for _, e := range all {
		if f.Has(e.flag) {
			names = append(names, e.name)
		}
	}
	return names
}

// String renders the set as a C expression, "0" when empty.
func (f Flags) String() string {
	names := f.Names()
	if len(names) == 0 {
		return "0"
	}
	return strings.Join(names, " | ")
}

// Emitter is the output side used by EmitMacros.
type Emitter interface {
	Emit(line string)
}

// EmitMacros writes one #define per flag and an OPCODE_HAS_* test macro.
func EmitMacros(out Emitter) {
	for _, e := range all {
		out.Emit("#define " + e.name + " (" + strconv.Itoa(int(e.flag)) + ")")
	}
	for _, e := range all {
		short := strings.TrimSuffix(e.name, "_FLAG")
		out.Emit("#define OPCODE_" + short + "(OP) (_PyOpcode_opcode_metadata[OP].flags & (" + e.name + "))")
	}
}

// VariableUsed reports whether name occurs as an identifier token.
func VariableUsed(toks []lexer.Token, name string) bool {
	for _, tok := range toks {
		if tok.Type == lexer.Ident && tok.Value == name {
			return true
		}
	}
	return false
}

// VariableUsedUnspecialized is like VariableUsed but skips tokens inside
// "#if ENABLE_SPECIALIZATION" up to the matching #else or #endif.
// Nested conditionals inside the skipped region are not tracked.
func VariableUsedUnspecialized(toks []lexer.Token, name string) bool {
	skipping := false
	for i, tok := range toks {
		if tok.Type == lexer.Macro {
			switch tok.Value {
			case "#if":
				if i+1 < len(toks) && toks[i+1].Value == "ENABLE_SPECIALIZATION" {
					skipping = true
				}
			case "#else", "#endif":
				skipping = false
			}
		}
		if skipping {
			continue
		}
		if tok.Type == lexer.Ident && tok.Value == name {
			return true
		}
	}
	return false
}
