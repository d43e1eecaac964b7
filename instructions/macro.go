package instructions

import (
	"strconv"
	"strings"

	"github.com/wippyai/casegen/decl"
	"github.com/wippyai/casegen/errors"
	"github.com/wippyai/casegen/flags"
	"github.com/wippyai/casegen/formatter"
)

// Binding pairs a macro stack temporary with a component's effect.
type Binding struct {
	Var    decl.StackEffect
	Effect decl.StackEffect
}

// Component is one instruction inside a macro, with its effects bound
// to the macro's stack temporaries.
type Component struct {
	Instr         *Instruction
	InputMapping  []Binding
	OutputMapping []Binding
	ActiveCaches  []ActiveCacheEffect
}

// WriteBody emits the component as a nested block: inputs are loaded
// from temporaries, outputs stored back into them.
func (c *Component) WriteBody(out Sink) {
	out.Block("", "", func() {
		inputNames := make(map[string]bool, len(c.InputMapping))
		for _, b := range c.InputMapping {
			src := b.Var
			out.Declare(b.Effect, &src)
			inputNames[b.Effect.Name] = true
		}
		for _, b := range c.OutputMapping {
			if !inputNames[b.Effect.Name] {
				out.Declare(b.Effect, nil)
			}
		}

		c.Instr.WriteBody(out, 4, c.ActiveCaches, TierOne)

		for _, b := range c.OutputMapping {
			out.Assign(b.Var, b.Effect)
		}
	})
}

// MacroPart is a Component or a CachePart.
type MacroPart interface {
	CacheSize() int
}

// CachePart is a bare cache entry between macro components.
type CachePart struct {
	decl.CacheEffect
}

// CacheSize returns the number of code units the part skips.
func (p CachePart) CacheSize() int { return p.Size }

// CacheSize returns the component's inline cache footprint.
func (c *Component) CacheSize() int { return c.Instr.CacheOffset }

// MacroInstruction is a sequence of instructions sharing one stack
// frame. Stack holds the temporaries from the lowest slot touched to
// the highest.
type MacroInstruction struct {
	Name             string
	Stack            []decl.StackEffect
	InitialSP        int
	FinalSP          int
	InstrFmt         string
	Flags            flags.Flags
	Macro            *decl.Macro
	Parts            []MacroPart
	CacheOffset      int
	CheckEvalBreaker bool

	binding
}

// Resolver looks up an analyzed instruction by name.
type Resolver func(name string) (*Instruction, bool)

// NewMacroInstruction resolves the parts of m and lays their stack
// effects out over a shared set of temporaries.
func NewMacroInstruction(m *decl.Macro, resolve Resolver) (*MacroInstruction, error) {
	type part struct {
		instr *Instruction
		cache decl.CacheEffect
	}
	var parts []part
	for _, u := range m.UOps {
		switch u := u.(type) {
		case decl.OpName:
			instr, ok := resolve(u.Name)
			if !ok {
				return nil, errors.UnknownInstruction(m.Name, u.Name)
			}
			parts = append(parts, part{instr: instr})
		case decl.CacheEffect:
			parts = append(parts, part{cache: u})
		}
	}

	var components []*Instruction
	for _, p := range parts {
		if p.instr != nil {
			components = append(components, p.instr)
		}
	}
	stack, initialSP, err := stackAnalysis(m.Name, components)
	if err != nil {
		return nil, err
	}

	mac := &MacroInstruction{
		Name:      m.Name,
		Stack:     stack,
		InitialSP: initialSP,
		Macro:     m,
	}
	sp, offset := initialSP, 0
	for _, p := range parts {
		if p.instr == nil {
			mac.Parts = append(mac.Parts, CachePart{p.cache})
			offset += p.cache.Size
			continue
		}
		var comp *Component
		comp, sp, offset = bindComponent(p.instr, stack, sp, offset)
		mac.Parts = append(mac.Parts, comp)
		mac.Flags.Add(p.instr.Flags)
	}
	mac.FinalSP = sp
	mac.CacheOffset = offset
	mac.InstrFmt = instrFormat(true, offset)
	if n := len(components); n > 0 {
		mac.CheckEvalBreaker = components[n-1].CheckEvalBreaker
	}
	return mac, nil
}

// Finalize binds the family and prediction state. It may be called once.
func (m *MacroInstruction) Finalize(family *decl.Family, predicted bool) error {
	return m.bind(m.Name, family, predicted)
}

// Components returns the instruction parts in order.
func (m *MacroInstruction) Components() []*Component {
	var out []*Component
	for _, p := range m.Parts {
		if c, ok := p.(*Component); ok {
			out = append(out, c)
		}
	}
	return out
}

// Write emits the body of the macro: temporaries loaded from the stack,
// each component in its own block, then the stack writes.
func (m *MacroInstruction) Write(out Sink) {
	ieffects := make([]decl.StackEffect, len(m.Stack))
	for i, v := range m.Stack {
		if v.Cond != "" {
			v = decl.StackEffect{Name: v.Name, Type: v.Type}
		}
		ieffects[i] = v
	}
	for i := len(ieffects) - 1; i >= 0; i-- {
		var src *decl.StackEffect
		if i < m.InitialSP {
			src = &decl.StackEffect{Name: "stack_pointer[-" + strconv.Itoa(m.InitialSP-i) + "]"}
		}
		out.Declare(ieffects[i], src)
	}

	cacheAdjust := 0
	for _, p := range m.Parts {
		if c, ok := p.(*Component); ok {
			c.WriteBody(out)
		}
		cacheAdjust += p.CacheSize()
	}
	if cacheAdjust > 0 {
		out.Emit("next_instr += " + strconv.Itoa(cacheAdjust) + ";")
	}
	out.StaticAssertFamilySize(m.Name, m.family, cacheAdjust)

	out.StackAdjust(ieffects[:m.InitialSP], m.Stack[:m.FinalSP])
	for i := 1; i <= m.FinalSP; i++ {
		dst := decl.StackEffect{Name: "stack_pointer[-" + strconv.Itoa(i) + "]"}
		out.Assign(dst, m.Stack[m.FinalSP-i])
	}
}

// StackEffectStrings renders the popped and pushed slot counts.
// growth reports stack use above the final height, which the pushed
// count does not capture.
func (m *MacroInstruction) StackEffectStrings() (popped, pushed string, growth bool) {
	low, sp, high := 0, 0, 0
	var symbolic []string
	for _, c := range m.Components() {
		for range c.Instr.InputEffects {
			sp--
			low = min(low, sp)
		}
		for _, o := range c.Instr.OutputEffects {
			if o.Cond != "" {
				if o.Cond == "0" || o.Cond == "1" {
					symbolic = append(symbolic, o.Cond)
				} else {
					symbolic = append(symbolic, formatter.MaybeParenthesize(formatter.MaybeParenthesize(o.Cond)+" ? 1 : 0"))
				}
			}
			sp++
			high = max(high, sp)
		}
	}
	symbolic = append(symbolic, strconv.Itoa(sp-low-len(symbolic)))
	return strconv.Itoa(-low), strings.Join(symbolic, " + "), high != max(0, sp)
}

// stackAnalysis computes the temporaries a macro needs and how many of
// them are loaded from the stack on entry. Components must have fixed
// size effects; only the last may push conditionally.
func stackAnalysis(macro string, components []*Instruction) ([]decl.StackEffect, int, error) {
	current, lowest, highest := 0, 0, 0
	conditions := map[int]string{}
	for i, instr := range components {
		for _, e := range instr.InputEffects {
			if e.Size != "" {
				return nil, 0, errors.MacroStack(macro, instr.Name, "variable-sized stack effect "+e.Name)
			}
			if e.Cond != "" {
				return nil, 0, errors.MacroStack(macro, instr.Name, "conditional input effect "+e.Name)
			}
		}
		for _, e := range instr.OutputEffects {
			if e.Size != "" {
				return nil, 0, errors.MacroStack(macro, instr.Name, "variable-sized stack effect "+e.Name)
			}
			if e.Cond != "" && i != len(components)-1 {
				return nil, 0, errors.MacroStack(macro, instr.Name, "conditional output effect "+e.Name+" outside the last component")
			}
		}

		current -= len(instr.InputEffects)
		lowest = min(lowest, current)
		for _, e := range instr.OutputEffects {
			if e.Cond != "" {
				conditions[current] = e.Cond
			}
			current++
		}
		highest = max(highest, current)
	}

	var stack []decl.StackEffect
	for i := highest - lowest; i >= 1; i-- {
		stack = append(stack, decl.StackEffect{
			Name: "_tmp_" + strconv.Itoa(i),
			Cond: conditions[highest-i],
		})
	}
	return stack, -lowest, nil
}

// bindComponent maps instr's effects onto stack starting at sp and
// offsets its active caches by the macro's running cache offset.
func bindComponent(instr *Instruction, stack []decl.StackEffect, sp, offset int) (*Component, int, int) {
	c := &Component{Instr: instr}
	for i := len(instr.InputEffects) - 1; i >= 0; i-- {
		sp--
		c.InputMapping = append(c.InputMapping, Binding{Var: stack[sp], Effect: instr.InputEffects[i]})
	}
	for _, o := range instr.OutputEffects {
		c.OutputMapping = append(c.OutputMapping, Binding{Var: stack[sp], Effect: o})
		sp++
	}
	for _, ce := range instr.CacheEffects {
		if ce.Name != decl.Unused {
			c.ActiveCaches = append(c.ActiveCaches, ActiveCacheEffect{Effect: ce, Offset: offset})
		}
		offset += ce.Size
	}
	return c, sp, offset
}

// PseudoInstruction names a set of interchangeable instructions.
type PseudoInstruction struct {
	Name     string
	Targets  []*Instruction
	InstrFmt string
	Flags    flags.Flags
}

// NewPseudoInstruction resolves the targets of p. All targets must share
// format, flags and stack effect.
func NewPseudoInstruction(p *decl.Pseudo, resolve Resolver) (*PseudoInstruction, error) {
	if len(p.Targets) == 0 {
		return nil, errors.PseudoMismatch(p.Name, "no targets")
	}
	ps := &PseudoInstruction{Name: p.Name}
	var popped, pushed string
	for i, name := range p.Targets {
		t, ok := resolve(name)
		if !ok {
			return nil, errors.UnknownInstruction(p.Name, name)
		}
		tp, tq := t.StackEffectStrings()
		if i == 0 {
			ps.InstrFmt, ps.Flags = t.InstrFmt, t.Flags
			popped, pushed = tp, tq
		} else {
			switch {
			case t.InstrFmt != ps.InstrFmt:
				return nil, errors.PseudoMismatch(p.Name, "target "+name+" has format "+t.InstrFmt+", want "+ps.InstrFmt)
			case t.Flags != ps.Flags:
				return nil, errors.PseudoMismatch(p.Name, "target "+name+" has flags "+t.Flags.String()+", want "+ps.Flags.String())
			case tp != popped || tq != pushed:
				return nil, errors.PseudoMismatch(p.Name, "target "+name+" has a different stack effect")
			}
		}
		ps.Targets = append(ps.Targets, t)
	}
	return ps, nil
}

// StackEffectStrings returns the stack effect shared by all targets.
func (p *PseudoInstruction) StackEffectStrings() (popped, pushed string) {
	return p.Targets[0].StackEffectStrings()
}

// effectString renders a slot count as "symbolic + n", "symbolic" or "n".
func effectString(effects []decl.StackEffect) string {
	n, sym := formatter.ListEffectSize(effects)
	switch {
	case sym != "" && n != 0:
		return sym + " + " + strconv.Itoa(n)
	case sym != "":
		return sym
	}
	return strconv.Itoa(n)
}
