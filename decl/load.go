package decl

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/wippyai/casegen/errors"
)

type fileDoc struct {
	Source   string      `toml:"source"`
	Insts    []instDoc   `toml:"inst"`
	Families []familyDoc `toml:"family"`
	Macros   []macroDoc  `toml:"macro"`
	Pseudos  []pseudoDoc `toml:"pseudo"`
}

type instDoc struct {
	Name     string      `toml:"name"`
	Kind     string      `toml:"kind"`
	Line     int         `toml:"line"`
	Override bool        `toml:"override"`
	Inputs   []effectDoc `toml:"inputs"`
	Outputs  []effectDoc `toml:"outputs"`
	Block    string      `toml:"block"`
}

// effectDoc is a stack effect unless Cache is positive, in which case it
// is a cache effect of Cache code units.
type effectDoc struct {
	Name  string `toml:"name"`
	Type  string `toml:"type"`
	Size  string `toml:"size"`
	Cond  string `toml:"cond"`
	Cache int    `toml:"cache"`
}

type familyDoc struct {
	Name    string   `toml:"name"`
	Size    string   `toml:"size"`
	Members []string `toml:"members"`
}

type macroDoc struct {
	Name string   `toml:"name"`
	UOps []uopDoc `toml:"uops"`
}

type uopDoc struct {
	Op    string `toml:"op"`
	Name  string `toml:"name"`
	Cache int    `toml:"cache"`
}

type pseudoDoc struct {
	Name    string   `toml:"name"`
	Targets []string `toml:"targets"`
}

// Load reads and validates a TOML declaration file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.IO(errors.PhaseLoad, path, err)
	}
	return Parse(data, path)
}

// Parse decodes declaration data. path is used for diagnostics and as
// the default source filename.
func Parse(data []byte, path string) (*File, error) {
	var doc fileDoc
	md, err := toml.Decode(string(data), &doc)
	if err != nil {
		return nil, errors.New(errors.PhaseLoad, errors.KindInvalidInput).
			At(path, 0).
			Detail("parse declarations").
			Cause(err).
			Build()
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, errors.New(errors.PhaseLoad, errors.KindInvalidInput).
			At(path, 0).
			Value(undecoded[0].String()).
			Detail("unknown key %q", undecoded[0].String()).
			Build()
	}

	f := &File{Path: path, Source: doc.Source}
	if f.Source == "" {
		f.Source = path
	}

	for i, d := range doc.Insts {
		def, err := d.build(f.Source)
		if err != nil {
			return nil, withLocation(err, path, fmt.Sprintf("inst[%d]", i))
		}
		f.Insts = append(f.Insts, def)
	}
	for i, d := range doc.Families {
		if d.Name == "" || len(d.Members) == 0 {
			return nil, errors.New(errors.PhaseLoad, errors.KindInvalidInput).
				At(path, 0).
				Detail("family[%d] needs a name and at least one member", i).
				Build()
		}
		f.Families = append(f.Families, &Family{Name: d.Name, Size: d.Size, Members: d.Members})
	}
	for i, d := range doc.Macros {
		m, err := d.build(f.Source)
		if err != nil {
			return nil, withLocation(err, path, fmt.Sprintf("macro[%d]", i))
		}
		f.Macros = append(f.Macros, m)
	}
	for i, d := range doc.Pseudos {
		if d.Name == "" || len(d.Targets) == 0 {
			return nil, errors.New(errors.PhaseLoad, errors.KindInvalidInput).
				At(path, 0).
				Detail("pseudo[%d] needs a name and at least one target", i).
				Build()
		}
		f.Pseudos = append(f.Pseudos, &Pseudo{Name: d.Name, Targets: d.Targets})
	}

	f.Order = declarationOrder(md, f)
	return f, nil
}

func (d instDoc) build(source string) (*InstDef, error) {
	if d.Name == "" {
		return nil, errors.InvalidInput(errors.PhaseLoad, "instruction without name")
	}
	kind, ok := ParseKind(d.Kind)
	if !ok {
		return nil, errors.New(errors.PhaseLoad, errors.KindInvalidInput).
			Instruction(d.Name).
			Value(d.Kind).
			Detail("unknown kind %q", d.Kind).
			Build()
	}
	if d.Block == "" {
		return nil, errors.New(errors.PhaseLoad, errors.KindMalformedBlock).
			Instruction(d.Name).
			Detail("missing block").
			Build()
	}

	def := &InstDef{
		Name:     d.Name,
		Kind:     kind,
		Override: d.Override,
		Block:    NewBlock(d.Block, source, max(d.Line, 1)),
	}
	for _, e := range d.Inputs {
		if e.Cache > 0 {
			ce := CacheEffect{Name: e.Name, Size: e.Cache}
			if err := ce.Validate(d.Name); err != nil {
				return nil, err
			}
			def.Inputs = append(def.Inputs, ce)
			continue
		}
		se := e.stackEffect()
		if err := se.Validate(d.Name); err != nil {
			return nil, err
		}
		def.Inputs = append(def.Inputs, se)
	}
	for _, e := range d.Outputs {
		if e.Cache != 0 {
			return nil, errors.InvalidEffect(errors.PhaseLoad, d.Name, e.Name, "outputs cannot be cache effects")
		}
		se := e.stackEffect()
		if err := se.Validate(d.Name); err != nil {
			return nil, err
		}
		def.Outputs = append(def.Outputs, se)
	}
	return def, nil
}

// stackEffect converts e. Array effects are always PyObject ** locals.
func (e effectDoc) stackEffect() StackEffect {
	typ := e.Type
	if e.Size != "" {
		typ = "PyObject **"
	}
	return StackEffect{Name: e.Name, Type: typ, Size: e.Size, Cond: e.Cond}
}

func (d macroDoc) build(source string) (*Macro, error) {
	if d.Name == "" || len(d.UOps) == 0 {
		return nil, errors.InvalidInput(errors.PhaseLoad, "macro needs a name and at least one part")
	}
	m := &Macro{Name: d.Name, Filename: source}
	for _, u := range d.UOps {
		switch {
		case u.Op != "" && u.Cache == 0:
			m.UOps = append(m.UOps, OpName{Name: u.Op})
		case u.Op == "" && u.Cache > 0:
			ce := CacheEffect{Name: u.Name, Size: u.Cache}
			if err := ce.Validate(d.Name); err != nil {
				return nil, err
			}
			m.UOps = append(m.UOps, ce)
		default:
			return nil, errors.New(errors.PhaseLoad, errors.KindInvalidInput).
				Instruction(d.Name).
				Detail("macro part must be either an op or a cache entry").
				Build()
		}
	}
	return m, nil
}

// declarationOrder interleaves instructions, macros and pseudos the way
// they appear in the source. Falls back to grouped order when the key
// metadata does not account for every entry.
func declarationOrder(md toml.MetaData, f *File) []Entry {
	var order []Entry
	next := map[string]int{}
	counts := map[string]int{"inst": len(f.Insts), "macro": len(f.Macros), "pseudo": len(f.Pseudos)}
	for _, key := range md.Keys() {
		if len(key) != 1 {
			continue
		}
		name := key[0]
		total, tracked := counts[name]
		if !tracked || next[name] >= total {
			continue
		}
		i := next[name]
		next[name]++
		switch name {
		case "inst":
			order = append(order, Entry{Kind: EntryInst, Name: f.Insts[i].Name})
		case "macro":
			order = append(order, Entry{Kind: EntryMacro, Name: f.Macros[i].Name})
		case "pseudo":
			order = append(order, Entry{Kind: EntryPseudo, Name: f.Pseudos[i].Name})
		}
	}
	if len(order) == len(f.Insts)+len(f.Macros)+len(f.Pseudos) {
		return order
	}

	order = order[:0]
	for _, d := range f.Insts {
		order = append(order, Entry{Kind: EntryInst, Name: d.Name})
	}
	for _, m := range f.Macros {
		order = append(order, Entry{Kind: EntryMacro, Name: m.Name})
	}
	for _, p := range f.Pseudos {
		order = append(order, Entry{Kind: EntryPseudo, Name: p.Name})
	}
	return order
}

func withLocation(err error, path, where string) error {
	if e, ok := err.(*errors.Error); ok {
		if e.Location == "" {
			e.Location = path + " " + where
		}
		return e
	}
	return err
}
