package decl

import (
	"github.com/wippyai/casegen/errors"
)

// Unused is the sentinel name for operands and cache entries that are
// accounted for but never bound to a variable.
const Unused = "unused"

// StackEffect is one named operand on the evaluation stack.
type StackEffect struct {
	Name string
	Type string // C type annotation, empty means PyObject *
	Size string // array size expression, empty for a single slot
	Cond string // guard expression, empty if unconditional
}

// Validate rejects effects that cannot be sized.
func (e StackEffect) Validate(instr string) error {
	if e.Name == "" {
		return errors.InvalidEffect(errors.PhaseLoad, instr, e.Name, "missing name")
	}
	if e.Size != "" && e.Cond != "" {
		return errors.InvalidEffect(errors.PhaseLoad, instr, e.Name, "array effects cannot have a condition")
	}
	return nil
}

// CacheEffect is a fixed-width immediate stored after the opcode.
// Size is counted in 16-bit code units.
type CacheEffect struct {
	Name string
	Size int
}

// Validate rejects zero or negative widths.
func (c CacheEffect) Validate(instr string) error {
	if c.Name == "" {
		return errors.InvalidEffect(errors.PhaseLoad, instr, c.Name, "missing name")
	}
	if c.Size < 1 {
		return errors.InvalidEffect(errors.PhaseLoad, instr, c.Name, "cache size must be at least 1")
	}
	return nil
}

// InputEffect is either a StackEffect or a CacheEffect.
type InputEffect interface {
	isInputEffect()
}

func (StackEffect) isInputEffect() {}
func (CacheEffect) isInputEffect() {}

// UOp is one part of a macro: an OpName or a CacheEffect.
type UOp interface {
	isUOp()
}

// OpName references an instruction by name inside a macro.
type OpName struct {
	Name string
}

func (OpName) isUOp()      {}
func (CacheEffect) isUOp() {}
