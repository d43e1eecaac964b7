package decl

import (
	"fmt"

	"github.com/wippyai/casegen/internal/lexer"
)

// Kind distinguishes full instructions from bare building blocks.
type Kind int

const (
	// KindInst is a user-visible instruction with dispatch bookkeeping.
	KindInst Kind = iota
	// KindOp is a building block that only appears inside macros.
	KindOp
)

func (k Kind) String() string {
	switch k {
	case KindInst:
		return "inst"
	case KindOp:
		return "op"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps the declaration keyword to a Kind. Empty means inst.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "", "inst":
		return KindInst, true
	case "op":
		return KindOp, true
	}
	return 0, false
}

// Block is the raw body text of an instruction, braces included.
type Block struct {
	Text     string
	Filename string
	Line     int // source line of the first line of Text
	Tokens   []lexer.Token
}

// NewBlock tokenizes text for identifier queries.
func NewBlock(text, filename string, line int) Block {
	return Block{
		Text:     text,
		Filename: filename,
		Line:     line,
		Tokens:   lexer.Tokenize(text, line),
	}
}

// InstDef is one parsed instruction definition.
type InstDef struct {
	Name     string
	Kind     Kind
	Override bool
	Inputs   []InputEffect
	Outputs  []StackEffect
	Block    Block
}

// Tokens returns the identifiers of the whole definition: the size and
// condition expressions of its stack effects followed by the body.
func (d *InstDef) Tokens() []lexer.Token {
	var toks []lexer.Token
	header := func(e StackEffect) {
		for _, expr := range []string{e.Size, e.Cond} {
			if expr != "" {
				toks = append(toks, lexer.Tokenize(expr, d.Block.Line)...)
			}
		}
	}
	for _, in := range d.Inputs {
		if e, ok := in.(StackEffect); ok {
			header(e)
		}
	}
	for _, e := range d.Outputs {
		header(e)
	}
	if len(toks) == 0 {
		return d.Block.Tokens
	}
	return append(toks, d.Block.Tokens...)
}

// Family groups instructions sharing one cache layout.
// The first member is the generic head; Size is the declared cache size
// expression and may be empty.
type Family struct {
	Name    string
	Size    string
	Members []string
}

// Macro is a single opcode composed of instructions and cache entries.
type Macro struct {
	Name     string
	UOps     []UOp
	Filename string
}

// Pseudo is a compiler-only opcode resolved to one of its targets.
type Pseudo struct {
	Name    string
	Targets []string
}

// File is one loaded declaration source.
type File struct {
	Path     string
	Source   string
	Insts    []*InstDef
	Families []*Family
	Macros   []*Macro
	Pseudos  []*Pseudo
	Order    []Entry
}

// EntryKind tags an Entry.
type EntryKind int

const (
	EntryInst EntryKind = iota
	EntryMacro
	EntryPseudo
)

// Entry records declaration order across instructions, macros and pseudos.
type Entry struct {
	Kind EntryKind
	Name string
}
