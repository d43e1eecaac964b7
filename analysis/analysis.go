// Package analysis builds the instruction table from declaration files:
// it resolves overrides, macros, pseudo-instructions and families, and
// binds the late state of every instruction.
package analysis

import (
	stderrors "errors"
	"regexp"
	"slices"
	"strconv"

	"go.uber.org/zap"

	"github.com/wippyai/casegen/decl"
	"github.com/wippyai/casegen/errors"
	"github.com/wippyai/casegen/instructions"
)

var predictedRe = regexp.MustCompile(`^\s*(?:GO_TO_INSTRUCTION\(|DEOPT_IF\(.*?,\s*)(\w+)\);\s*(?://.*)?\s*$`)

// ItemKind tags an entry of the declaration order.
type ItemKind int

const (
	ItemInstruction ItemKind = iota
	ItemMacro
	ItemPseudo
	// ItemOverridden marks where an instruction was defined before a
	// later override replaced it.
	ItemOverridden
)

func (k ItemKind) String() string {
	switch k {
	case ItemInstruction:
		return "inst"
	case ItemMacro:
		return "macro"
	case ItemPseudo:
		return "pseudo"
	case ItemOverridden:
		return "overridden"
	default:
		return "unknown"
	}
}

// Item is one entry in declaration order.
type Item struct {
	Kind ItemKind
	Name string
}

// Options configures Analyze.
type Options struct {
	// Policy classifies micro-op candidates. The zero value selects
	// instructions.DefaultUopPolicy.
	Policy *instructions.UopPolicy
}

// Analysis is the resolved instruction table.
type Analysis struct {
	Instructions map[string]*instructions.Instruction
	Macros       map[string]*instructions.MacroInstruction
	Pseudos      map[string]*instructions.PseudoInstruction
	Families     map[string]*decl.Family

	// Everything lists instructions, macros and pseudos in the order
	// they were declared across all files.
	Everything []Item
	// Sources are the declaration source names in input order.
	Sources []string
	Policy  instructions.UopPolicy
}

// Analyze loads files in order into one table. A later file may
// override an instruction of an earlier one only when it says so.
func Analyze(opts Options, files ...*decl.File) (*Analysis, error) {
	if len(files) == 0 {
		return nil, errors.InvalidInput(errors.PhaseAnalyze, "no declaration files")
	}
	a := &Analysis{
		Instructions: make(map[string]*instructions.Instruction),
		Macros:       make(map[string]*instructions.MacroInstruction),
		Pseudos:      make(map[string]*instructions.PseudoInstruction),
		Families:     make(map[string]*decl.Family),
		Policy:       instructions.DefaultUopPolicy(),
	}
	if opts.Policy != nil {
		a.Policy = *opts.Policy
	}

	macros := map[string]*decl.Macro{}
	pseudos := map[string]*decl.Pseudo{}
	var familyOrder []string
	for _, f := range files {
		a.Sources = append(a.Sources, f.Source)
		if err := a.collect(f, macros, pseudos); err != nil {
			return nil, err
		}
		for _, fam := range f.Families {
			if _, dup := a.Families[fam.Name]; dup {
				return nil, errors.Duplicate(fam.Name, f.Source, 0)
			}
			a.Families[fam.Name] = fam
			familyOrder = append(familyOrder, fam.Name)
		}
	}

	var errs []error
	for _, item := range a.Everything {
		switch item.Kind {
		case ItemMacro:
			mac, err := instructions.NewMacroInstruction(macros[item.Name], a.resolve)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			a.Macros[item.Name] = mac
			a.noteMacro(mac)
		case ItemPseudo:
			ps, err := instructions.NewPseudoInstruction(pseudos[item.Name], a.resolve)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			a.Pseudos[item.Name] = ps
		}
	}
	if len(errs) > 0 {
		return nil, stderrors.Join(errs...)
	}

	predicted, errs := a.findPredictions()
	families, famErrs := a.mapFamilies(familyOrder)
	errs = append(errs, famErrs...)
	if len(famErrs) == 0 {
		errs = append(errs, a.checkFamilies(familyOrder)...)
	}
	if len(errs) > 0 {
		return nil, stderrors.Join(errs...)
	}

	for name, in := range a.Instructions {
		if err := in.Finalize(families[name], predicted[name]); err != nil {
			return nil, err
		}
	}
	for name, mac := range a.Macros {
		if err := mac.Finalize(families[name], predicted[name]); err != nil {
			return nil, err
		}
	}

	Logger().Debug("analyzed declarations",
		zap.Int("instructions", len(a.Instructions)),
		zap.Int("macros", len(a.Macros)),
		zap.Int("pseudos", len(a.Pseudos)),
		zap.Int("families", len(a.Families)))
	return a, nil
}

// collect records the definitions of one file in declaration order.
func (a *Analysis) collect(f *decl.File, macros map[string]*decl.Macro, pseudos map[string]*decl.Pseudo) error {
	defs := make(map[string]*decl.InstDef, len(f.Insts))
	for _, d := range f.Insts {
		defs[d.Name] = d
	}
	fileMacros := make(map[string]*decl.Macro, len(f.Macros))
	for _, m := range f.Macros {
		fileMacros[m.Name] = m
	}
	filePseudos := make(map[string]*decl.Pseudo, len(f.Pseudos))
	for _, p := range f.Pseudos {
		filePseudos[p.Name] = p
	}

	for _, entry := range f.Order {
		switch entry.Kind {
		case decl.EntryInst:
			if err := a.addInstruction(defs[entry.Name]); err != nil {
				return err
			}
		case decl.EntryMacro:
			if a.defined(entry.Name) {
				return errors.Duplicate(entry.Name, f.Source, 0)
			}
			macros[entry.Name] = fileMacros[entry.Name]
			a.Everything = append(a.Everything, Item{Kind: ItemMacro, Name: entry.Name})
		case decl.EntryPseudo:
			if a.defined(entry.Name) {
				return errors.Duplicate(entry.Name, f.Source, 0)
			}
			pseudos[entry.Name] = filePseudos[entry.Name]
			a.Everything = append(a.Everything, Item{Kind: ItemPseudo, Name: entry.Name})
		}
	}
	return nil
}

func (a *Analysis) addInstruction(def *decl.InstDef) error {
	prev, exists := a.Instructions[def.Name]
	switch {
	case exists && !def.Override:
		return errors.New(errors.PhaseAnalyze, errors.KindDuplicate).
			Instruction(def.Name).
			At(def.Block.Filename, def.Block.Line).
			Detail("previous definition at %s", errors.Location(prev.Filename, prev.BlockLine)).
			Build()
	case !exists && def.Override:
		return errors.New(errors.PhaseAnalyze, errors.KindInvalidInput).
			Instruction(def.Name).
			At(def.Block.Filename, def.Block.Line).
			Detail("override without a previous definition").
			Build()
	case !exists && a.defined(def.Name):
		return errors.Duplicate(def.Name, def.Block.Filename, def.Block.Line)
	}

	in, err := instructions.NewInstruction(def)
	if err != nil {
		return err
	}
	if exists {
		for i, item := range a.Everything {
			if item.Kind == ItemInstruction && item.Name == def.Name {
				a.Everything[i].Kind = ItemOverridden
			}
		}
		Logger().Debug("instruction overridden",
			zap.String("name", def.Name),
			zap.String("at", errors.Location(def.Block.Filename, def.Block.Line)))
	}
	a.Instructions[def.Name] = in
	a.Everything = append(a.Everything, Item{Kind: ItemInstruction, Name: def.Name})
	return nil
}

// defined reports whether name is already taken by any definition.
func (a *Analysis) defined(name string) bool {
	if _, ok := a.Instructions[name]; ok {
		return true
	}
	for _, item := range a.Everything {
		if item.Name == name && (item.Kind == ItemMacro || item.Kind == ItemPseudo) {
			return true
		}
	}
	return false
}

func (a *Analysis) resolve(name string) (*instructions.Instruction, bool) {
	in, ok := a.Instructions[name]
	return in, ok
}

func (a *Analysis) noteMacro(mac *instructions.MacroInstruction) {
	if _, _, growth := mac.StackEffectStrings(); growth {
		Logger().Warn("macro has intermediate stack growth", zap.String("macro", mac.Name))
	}
	for _, c := range mac.Components() {
		if ok, reason := a.Policy.Check(c.Instr); !ok {
			Logger().Debug("macro part is not a viable uop",
				zap.String("macro", mac.Name),
				zap.String("part", c.Instr.Name),
				zap.String("reason", reason))
		}
	}
}

// findPredictions collects the names targeted by GO_TO_INSTRUCTION or
// DEOPT_IF in any instruction body.
func (a *Analysis) findPredictions() (map[string]bool, []error) {
	predicted := map[string]bool{}
	var errs []error
	for _, item := range a.Everything {
		if item.Kind != ItemInstruction {
			continue
		}
		in := a.Instructions[item.Name]
		for _, line := range in.BlockText {
			m := predictedRe.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			target := m[1]
			_, isInstr := a.Instructions[target]
			_, isMacro := a.Macros[target]
			if !isInstr && !isMacro {
				errs = append(errs, errors.New(errors.PhaseAnalyze, errors.KindUnknownInstruction).
					Instruction(in.Name).
					At(in.Filename, in.BlockLine).
					Value(target).
					Detail("predicts unknown instruction %s", target).
					Build())
				continue
			}
			predicted[target] = true
		}
	}
	return predicted, errs
}

// mapFamilies assigns each family head and member its family.
func (a *Analysis) mapFamilies(order []string) (map[string]*decl.Family, []error) {
	out := map[string]*decl.Family{}
	var errs []error
	for _, name := range order {
		fam := a.Families[name]
		for _, member := range familyMembers(fam) {
			_, isInstr := a.Instructions[member]
			_, isMacro := a.Macros[member]
			if !isInstr && !isMacro {
				errs = append(errs, errors.FamilyMismatch(fam.Name, member, "unknown instruction"))
				continue
			}
			if prev, ok := out[member]; ok && prev != fam {
				errs = append(errs, errors.FamilyMismatch(fam.Name, member, "already a member of family "+prev.Name))
				continue
			}
			out[member] = fam
		}
	}
	return out, errs
}

// checkFamilies requires every member to match the head's cache size
// and stack shape.
func (a *Analysis) checkFamilies(order []string) []error {
	var errs []error
	for _, name := range order {
		fam := a.Families[name]
		want := a.effectCounts(fam.Name)
		for _, member := range fam.Members {
			if member == fam.Name {
				continue
			}
			if got := a.effectCounts(member); got != want {
				errs = append(errs, errors.FamilyMismatch(fam.Name, member,
					"(cache, inputs, outputs) = "+got.String()+", head has "+want.String()))
			}
		}
	}
	return errs
}

type effectCounts struct {
	cache, inputs, outputs int
}

func (c effectCounts) String() string {
	return "(" + strconv.Itoa(c.cache) + ", " + strconv.Itoa(c.inputs) + ", " + strconv.Itoa(c.outputs) + ")"
}

// effectCounts summarizes name's footprint. For macros, values pushed by
// one component and popped by the next do not count.
func (a *Analysis) effectCounts(name string) effectCounts {
	if in, ok := a.Instructions[name]; ok {
		return effectCounts{in.CacheOffset, len(in.InputEffects), len(in.OutputEffects)}
	}
	mac := a.Macros[name]
	c := effectCounts{cache: mac.CacheOffset}
	for _, comp := range mac.Components() {
		di, do := len(comp.Instr.InputEffects), len(comp.Instr.OutputEffects)
		shared := min(di, c.outputs)
		c.inputs += di - shared
		c.outputs += do - shared
	}
	return c
}

func familyMembers(fam *decl.Family) []string {
	members := []string{fam.Name}
	for _, m := range fam.Members {
		if !slices.Contains(members, m) {
			members = append(members, m)
		}
	}
	return members
}

// Viable reports whether name is an instruction the policy accepts as
// a micro-op.
func (a *Analysis) Viable(name string) bool {
	in, ok := a.Instructions[name]
	return ok && a.Policy.Viable(in)
}

// Lookup describes one item for display.
func (a *Analysis) Lookup(item Item) (format string, flags string, ok bool) {
	switch item.Kind {
	case ItemInstruction:
		in := a.Instructions[item.Name]
		return in.InstrFmt, in.Flags.String(), true
	case ItemMacro:
		mac := a.Macros[item.Name]
		return mac.InstrFmt, mac.Flags.String(), true
	case ItemPseudo:
		ps := a.Pseudos[item.Name]
		return ps.InstrFmt, ps.Flags.String(), true
	}
	return "", "", false
}
