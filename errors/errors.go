package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in generation the error occurred
type Phase string

const (
	PhaseLoad     Phase = "load"     // declaration file loading
	PhaseAnalyze  Phase = "analyze"  // instruction table analysis
	PhaseGenerate Phase = "generate" // body and table emission
	PhaseWrite    Phase = "write"    // output file handling
	PhaseConfig   Phase = "config"   // generator configuration
)

// Kind categorizes the error
type Kind string

const (
	KindMalformedBlock     Kind = "malformed_block"
	KindInvalidEffect      Kind = "invalid_effect"
	KindUnknownInstruction Kind = "unknown_instruction"
	KindDuplicate          Kind = "duplicate_definition"
	KindFamilyMismatch     Kind = "family_mismatch"
	KindMacroStack         Kind = "macro_stack"
	KindPseudoMismatch     Kind = "pseudo_mismatch"
	KindInvalidInput       Kind = "invalid_input"
	KindAlreadyFinalized   Kind = "already_finalized"
	KindIO                 Kind = "io"
)

// Error is the structured error type used throughout the generator
type Error struct {
	Value       any
	Cause       error
	Phase       Phase
	Kind        Kind
	Instruction string
	Location    string
	Detail      string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	if e.Location != "" {
		b.WriteString(e.Location)
		b.WriteString(": ")
	}

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Instruction != "" {
		b.WriteString(" in ")
		b.WriteString(e.Instruction)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Instruction sets the name of the offending instruction
func (b *Builder) Instruction(name string) *Builder {
	b.err.Instruction = name
	return b
}

// At sets the source location as file:line
func (b *Builder) At(filename string, line int) *Builder {
	b.err.Location = Location(filename, line)
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Location formats a declaration source position.
// An empty filename yields only the line, a zero line only the filename.
func Location(filename string, line int) string {
	switch {
	case filename == "" && line <= 0:
		return ""
	case line <= 0:
		return filename
	case filename == "":
		return fmt.Sprintf("line %d", line)
	}
	return fmt.Sprintf("%s:%d", filename, line)
}

// Convenience constructors for common error patterns

// MalformedBlock creates an error for instruction body text that cannot be extracted
func MalformedBlock(instr, filename string, line int, detail string) *Error {
	return &Error{
		Phase:       PhaseAnalyze,
		Kind:        KindMalformedBlock,
		Instruction: instr,
		Location:    Location(filename, line),
		Detail:      detail,
	}
}

// InvalidEffect creates an error for a stack or cache effect with an impossible shape
func InvalidEffect(phase Phase, instr, effect, detail string) *Error {
	return &Error{
		Phase:       phase,
		Kind:        KindInvalidEffect,
		Instruction: instr,
		Value:       effect,
		Detail:      fmt.Sprintf("effect %q: %s", effect, detail),
	}
}

// UnknownInstruction creates an error for a reference to an undefined instruction
func UnknownInstruction(owner, name string) *Error {
	return &Error{
		Phase:       PhaseAnalyze,
		Kind:        KindUnknownInstruction,
		Instruction: owner,
		Value:       name,
		Detail:      fmt.Sprintf("unknown instruction %q", name),
	}
}

// Duplicate creates an error for a definition that redefines an existing name without override
func Duplicate(name, filename string, line int) *Error {
	return &Error{
		Phase:       PhaseAnalyze,
		Kind:        KindDuplicate,
		Instruction: name,
		Location:    Location(filename, line),
		Detail:      "duplicate definition without override",
	}
}

// FamilyMismatch creates an error for a family member whose layout differs from the family head
func FamilyMismatch(family, member, detail string) *Error {
	return &Error{
		Phase:       PhaseAnalyze,
		Kind:        KindFamilyMismatch,
		Instruction: member,
		Value:       family,
		Detail:      fmt.Sprintf("family %s: %s", family, detail),
	}
}

// MacroStack creates an error for a macro whose components cannot share one stack
func MacroStack(macro, component, detail string) *Error {
	return &Error{
		Phase:       PhaseAnalyze,
		Kind:        KindMacroStack,
		Instruction: macro,
		Value:       component,
		Detail:      detail,
	}
}

// PseudoMismatch creates an error for pseudo targets that disagree on format or flags
func PseudoMismatch(pseudo, detail string) *Error {
	return &Error{
		Phase:       PhaseAnalyze,
		Kind:        KindPseudoMismatch,
		Instruction: pseudo,
		Detail:      detail,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// AlreadyFinalized creates an error for a second late-binding of an instruction
func AlreadyFinalized(instr string) *Error {
	return &Error{
		Phase:       PhaseAnalyze,
		Kind:        KindAlreadyFinalized,
		Instruction: instr,
		Detail:      "family and prediction already bound",
	}
}

// IO wraps a file system failure
func IO(phase Phase, path string, cause error) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindIO,
		Location: path,
		Cause:    cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
