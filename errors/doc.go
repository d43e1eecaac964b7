// Package errors provides structured error types for the casegen generator.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type includes the offending instruction, its declaration source location,
// and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseAnalyze, errors.KindMalformedBlock).
//		Instruction("LOAD_FAST").
//		At("Python/bytecodes.c", 120).
//		Detail("block does not start with '{'").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.UnknownInstruction("LOAD_ADD", "_LOAD")
//	err := errors.FamilyMismatch("BINARY_OP", "BINARY_OP_ADD_INT", "cache offset 2, want 1")
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
