package instructions

import (
	"fmt"

	"github.com/wippyai/casegen/flags"
)

// DefaultTraceExit is the one instruction that may leave a trace.
const DefaultTraceExit = "EXIT_TRACE"

// DefaultForbidden lists identifiers that tie a body to the tier-one
// instruction stream or its exception machinery.
var DefaultForbidden = []string{
	"resume_with_error",
	"kwnames",
	"next_instr",
	"oparg1",
	"JUMPBY",
	"DISPATCH",
	"INSTRUMENTED_JUMP",
	"throwflag",
	"exception_unwind",
	"import_from",
	"import_name",
	"_PyObject_CallNoArgs",
}

// UopPolicy decides which instructions can run as micro-ops in the
// trace executor.
type UopPolicy struct {
	// TraceExit is always viable, even though it exits.
	TraceExit string
	// Forbidden identifiers disqualify a body when used outside
	// specialization-only regions.
	Forbidden []string
}

// DefaultUopPolicy returns the policy with the built-in name list.
func DefaultUopPolicy() UopPolicy {
	return UopPolicy{
		TraceExit: DefaultTraceExit,
		Forbidden: append([]string(nil), DefaultForbidden...),
	}
}

// Viable reports whether instr can be a micro-op.
func (p UopPolicy) Viable(instr *Instruction) bool {
	ok, _ := p.Check(instr)
	return ok
}

// Check is Viable with the reason for rejection.
func (p UopPolicy) Check(instr *Instruction) (bool, string) {
	if p.TraceExit != "" && instr.Name == p.TraceExit {
		return true, ""
	}
	if instr.AlwaysExits {
		return false, "body always exits"
	}
	if n := len(instr.ActiveCaches); n > 1 {
		return false, fmt.Sprintf("%d active cache effects", n)
	}
	for _, name := range p.Forbidden {
		if flags.VariableUsedUnspecialized(instr.Def.Tokens(), name) {
			return false, "uses " + name
		}
	}
	return true, ""
}
