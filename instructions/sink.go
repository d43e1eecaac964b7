package instructions

import "github.com/wippyai/casegen/decl"

// Sink receives generated code. *formatter.Formatter implements it.
type Sink interface {
	Emit(line string)
	WriteRaw(s string)
	Declare(dst decl.StackEffect, src *decl.StackEffect)
	Assign(dst, src decl.StackEffect)
	StackAdjust(inputs, outputs []decl.StackEffect)
	StaticAssertFamilySize(name string, family *decl.Family, cacheOffset int)
	SetLineno(lineno int, filename string)
	ResetLineno()
	Block(head, tail string, fn func())
}
