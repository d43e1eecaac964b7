package instructions

import (
	"strings"

	"github.com/wippyai/casegen/decl"
	"github.com/wippyai/casegen/errors"
	"github.com/wippyai/casegen/flags"
)

// BitsPerCodeUnit is the width of one instruction stream slot.
const BitsPerCodeUnit = 16

// bodyIndent is the indentation of top-level statements in a body.
const bodyIndent = "            "

// exitPrefixes are statement starts that unconditionally leave the body.
var exitPrefixes = []string{
	"goto ",
	"return ",
	"DISPATCH",
	"GO_TO_",
	"Py_UNREACHABLE()",
	"ERROR_IF(true, ",
}

// Tier selects the interpreter the body is generated for.
type Tier int

const (
	// TierOne is the specializing interpreter; caches are read from the
	// instruction stream.
	TierOne Tier = 1
	// TierTwo is the trace executor; the single cache value arrives as
	// the uop operand.
	TierTwo Tier = 2
)

// ActiveCacheEffect is a named cache effect and its offset in code units.
type ActiveCacheEffect struct {
	Effect decl.CacheEffect
	Offset int
}

// Instruction is an analyzed instruction definition.
type Instruction struct {
	Def  *decl.InstDef
	Kind decl.Kind
	Name string

	// BlockText holds the body lines, braces and trailing
	// CHECK_EVAL_BREAKER() removed, each ending in "\n".
	BlockText        []string
	BlockLine        int
	Filename         string
	CheckEvalBreaker bool

	AlwaysExits   bool
	HasDeopt      bool
	CacheOffset   int
	CacheEffects  []decl.CacheEffect
	InputEffects  []decl.StackEffect
	OutputEffects []decl.StackEffect
	UnmovedNames  []string
	InstrFmt      string
	Flags         flags.Flags
	ActiveCaches  []ActiveCacheEffect

	binding
}

// NewInstruction analyzes def. A block that is not wrapped in braces or
// an effect with an impossible shape fails construction.
func NewInstruction(def *decl.InstDef) (*Instruction, error) {
	text, evalBreaker, line, err := extractBlockText(def)
	if err != nil {
		return nil, err
	}

	in := &Instruction{
		Def:              def,
		Kind:             def.Kind,
		Name:             def.Name,
		BlockText:        text,
		BlockLine:        line,
		Filename:         def.Block.Filename,
		CheckEvalBreaker: evalBreaker,
		AlwaysExits:      alwaysExits(text),
		OutputEffects:    def.Outputs,
		Flags:            flags.FromInstDef(def),
	}
	in.HasDeopt = in.Flags.Has(flags.HasDeopt)

	for _, eff := range def.Inputs {
		switch e := eff.(type) {
		case decl.CacheEffect:
			if err := e.Validate(def.Name); err != nil {
				return nil, err
			}
			in.CacheEffects = append(in.CacheEffects, e)
		case decl.StackEffect:
			if err := e.Validate(def.Name); err != nil {
				return nil, err
			}
			in.InputEffects = append(in.InputEffects, e)
		}
	}
	for _, e := range def.Outputs {
		if err := e.Validate(def.Name); err != nil {
			return nil, err
		}
	}

	offset := 0
	for _, c := range in.CacheEffects {
		if c.Name != decl.Unused {
			in.ActiveCaches = append(in.ActiveCaches, ActiveCacheEffect{Effect: c, Offset: offset})
		}
		offset += c.Size
	}
	in.CacheOffset = offset

	in.UnmovedNames = unmovedNames(in.InputEffects, in.OutputEffects)
	in.InstrFmt = instrFormat(in.Flags.Has(flags.HasArg), offset)
	return in, nil
}

// Finalize binds the family and prediction state. It may be called once.
func (in *Instruction) Finalize(family *decl.Family, predicted bool) error {
	return in.bind(in.Name, family, predicted)
}

// binding is the state resolved after every definition is known.
type binding struct {
	family    *decl.Family
	predicted bool
	finalized bool
}

func (b *binding) bind(name string, family *decl.Family, predicted bool) error {
	if b.finalized {
		return errors.AlreadyFinalized(name)
	}
	b.family = family
	b.predicted = predicted
	b.finalized = true
	return nil
}

// Family returns the cache-layout family, or nil.
func (b *binding) Family() *decl.Family {
	return b.family
}

// Predicted reports whether another instruction jumps here by name.
func (b *binding) Predicted() bool {
	return b.predicted
}

// IsUnmoved reports whether name is left in place on the stack.
func (in *Instruction) IsUnmoved(name string) bool {
	for _, n := range in.UnmovedNames {
		if n == name {
			return true
		}
	}
	return false
}

// StackEffectStrings renders the number of popped and pushed slots as C
// expressions.
func (in *Instruction) StackEffectStrings() (popped, pushed string) {
	return effectString(in.InputEffects), effectString(in.OutputEffects)
}

// unmovedNames returns the common bottom prefix of inputs and outputs.
func unmovedNames(inputs, outputs []decl.StackEffect) []string {
	var names []string
	for i := 0; i < len(inputs) && i < len(outputs); i++ {
		if inputs[i].Name != outputs[i].Name {
			break
		}
		names = append(names, inputs[i].Name)
	}
	return names
}

// instrFormat encodes the operand layout: IB/IX for argument presence,
// then "C" and one "0" per further cache code unit.
func instrFormat(hasArg bool, cacheOffset int) string {
	f := "IX"
	if hasArg {
		f = "IB"
	}
	if cacheOffset > 0 {
		f += "C" + strings.Repeat("0", cacheOffset-1)
	}
	return f
}

// extractBlockText strips the braces and surrounding blank lines of a
// body and splits off a trailing CHECK_EVAL_BREAKER() call. It returns
// the body lines and the source line of the first one.
func extractBlockText(def *decl.InstDef) ([]string, bool, int, error) {
	block := def.Block
	line := block.Line
	lines := strings.SplitAfter(block.Text, "\n")

	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
		line++
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return nil, false, 0, errors.MalformedBlock(def.Name, block.Filename, block.Line, "empty block")
	}

	first := strings.TrimLeft(lines[0], " \t")
	if !strings.HasPrefix(first, "{") {
		return nil, false, 0, errors.MalformedBlock(def.Name, block.Filename, line, "block does not start with '{'")
	}
	last := strings.TrimRight(lines[len(lines)-1], " \t\r\n")
	if !strings.HasSuffix(last, "}") {
		return nil, false, 0, errors.MalformedBlock(def.Name, block.Filename, line+len(lines)-1, "block does not end with '}'")
	}

	if len(lines) == 1 {
		inner := first[1 : len(strings.TrimRight(first, " \t\r\n"))-1]
		if strings.TrimSpace(inner) == "" {
			return nil, false, line, nil
		}
		lines = []string{inner + "\n"}
	} else {
		if rest := first[1:]; strings.TrimSpace(rest) == "" {
			lines = lines[1:]
			line++
		} else {
			lines[0] = rest
		}
		tail := last[:len(last)-1]
		if strings.TrimSpace(tail) == "" {
			lines = lines[:len(lines)-1]
		} else {
			lines[len(lines)-1] = tail + "\n"
		}
	}

	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	for i, l := range lines {
		if !strings.HasSuffix(l, "\n") {
			lines[i] = l + "\n"
		}
	}

	evalBreaker := len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "CHECK_EVAL_BREAKER();"
	if evalBreaker {
		lines = lines[:len(lines)-1]
	}
	return lines, evalBreaker, line, nil
}

// alwaysExits reports whether the last body line leaves the instruction.
// The check is syntactic: the line must sit at exactly the top-level
// body indentation and start with a known control transfer.
func alwaysExits(lines []string) bool {
	if len(lines) == 0 {
		return false
	}
	line := strings.TrimRight(lines[len(lines)-1], " \t\r\n")
	if !strings.HasPrefix(line, bodyIndent) {
		return false
	}
	line = line[len(bodyIndent):]
	for _, p := range exitPrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}
