// Package instructions turns parsed instruction definitions into the C
// code that executes them.
//
// An Instruction is built once from a decl.InstDef. Construction extracts
// the body text, classifies cache and stack effects, computes the operand
// format and flags, and records which operands stay in place. Family and
// prediction state are bound later with Finalize, after every definition
// has been seen.
//
// Writing happens through a Sink:
//
//	in.Write(out, instructions.TierOne)   // full TARGET body
//	in.Write(out, instructions.TierTwo)   // executor case body
//	mac.Write(out)                        // macro over shared temporaries
//
// Body lines are copied verbatim except for ERROR_IF(cond, label) and
// DECREF_INPUTS(), which expand into stack-aware cleanup code.
//
// UopPolicy decides whether an instruction may run in the trace executor.
package instructions
