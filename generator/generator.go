// Package generator renders an analyzed instruction table into the
// interpreter case files and the opcode metadata header.
package generator

import (
	"io"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/casegen/analysis"
	"github.com/wippyai/casegen/decl"
	"github.com/wippyai/casegen/flags"
	"github.com/wippyai/casegen/formatter"
	"github.com/wippyai/casegen/instructions"
)

const (
	instrFmtPrefix = "INSTR_FMT_"
	caseIndent     = 8
)

// Options configures a Generator.
type Options struct {
	// Digest is the input digest recorded in each header, if set.
	Digest string
	// LineDirectives enables #line directives in the case files.
	LineDirectives bool
}

// Generator writes the output files for one analysis.
type Generator struct {
	a    *analysis.Analysis
	opts Options
}

// New creates a Generator for a.
func New(a *analysis.Analysis, opts Options) *Generator {
	return &Generator{a: a, opts: opts}
}

func (g *Generator) newFormatter(w io.Writer, filename string, indent int, lineDirectives bool) *formatter.Formatter {
	return formatter.New(w, formatter.Config{
		Filename:       filename,
		Indent:         indent,
		LineDirectives: lineDirectives,
	})
}

func (g *Generator) writeHeader(out *formatter.Formatter) {
	c := out.Comment()
	out.WriteRaw(c + " This file is generated by casegen\n")
	out.WriteRaw(c + " from:\n")
	for _, src := range g.a.Sources {
		out.WriteRaw(c + "   " + formatter.PrettifyFilename(src) + "\n")
	}
	if g.opts.Digest != "" {
		out.WriteRaw(c + " Input digest: blake3:" + g.opts.Digest + "\n")
	}
	out.WriteRaw(c + " Do not edit!\n")
}

// WriteInstructions writes the tier-one cases: one TARGET block per
// instruction and macro in declaration order.
func (g *Generator) WriteInstructions(w io.Writer, filename string) error {
	out := g.newFormatter(w, filename, caseIndent, g.opts.LineDirectives)
	g.writeHeader(out)
	out.WriteRaw("\n")
	out.WriteRaw("#ifdef TIER_TWO\n")
	out.WriteRaw("    #error \"This file is for Tier 1 only\"\n")
	out.WriteRaw("#endif\n")
	out.WriteRaw("#define TIER_ONE 1\n")

	var nInstrs, nMacros, nPseudos int
	for _, item := range g.a.Everything {
		switch item.Kind {
		case analysis.ItemOverridden:
			out.Emit("")
			out.Emit(out.Comment() + " TARGET(" + item.Name + ") overridden by later definition")
		case analysis.ItemInstruction:
			in := g.a.Instructions[item.Name]
			if in.Kind != decl.KindInst {
				continue
			}
			g.writeInstr(out, in)
			nInstrs++
		case analysis.ItemMacro:
			g.writeMacro(out, g.a.Macros[item.Name])
			nMacros++
		case analysis.ItemPseudo:
			nPseudos++
		}
	}

	out.WriteRaw("\n")
	out.WriteRaw("#undef TIER_ONE\n")

	Logger().Debug("wrote tier one cases",
		zap.String("file", filename),
		zap.Int("instructions", nInstrs),
		zap.Int("macros", nMacros),
		zap.Int("pseudos", nPseudos))
	return out.Err()
}

func (g *Generator) writeInstr(out *formatter.Formatter, in *instructions.Instruction) {
	out.Emit("")
	if in.Def.Override {
		out.Emit(out.Comment() + " Override")
	}
	out.Block("TARGET("+in.Name+")", "", func() {
		if in.Predicted() {
			out.Emit("PREDICTED(" + in.Name + ");")
		}
		in.Write(out, instructions.TierOne)
		if !in.AlwaysExits {
			if in.CheckEvalBreaker {
				out.Emit("CHECK_EVAL_BREAKER();")
			}
			out.Emit("DISPATCH();")
		}
	})
}

func (g *Generator) writeMacro(out *formatter.Formatter, mac *instructions.MacroInstruction) {
	out.Emit("")
	out.Block("TARGET("+mac.Name+")", "", func() {
		if mac.Predicted() {
			out.Emit("PREDICTED(" + mac.Name + ");")
		}
		mac.Write(out)
		if mac.CheckEvalBreaker {
			out.Emit("CHECK_EVAL_BREAKER();")
		}
		out.Emit("DISPATCH();")
	})
}

// WriteExecutorInstructions writes the tier-two cases for every
// instruction the policy accepts as a micro-op.
func (g *Generator) WriteExecutorInstructions(w io.Writer, filename string) error {
	out := g.newFormatter(w, filename, caseIndent, g.opts.LineDirectives)
	g.writeHeader(out)
	out.WriteRaw("\n")
	out.WriteRaw("#ifdef TIER_ONE\n")
	out.WriteRaw("    #error \"This file is for Tier 2 only\"\n")
	out.WriteRaw("#endif\n")
	out.WriteRaw("#define TIER_TWO 2\n")

	nUops := 0
	for _, item := range g.a.Everything {
		if item.Kind != analysis.ItemInstruction {
			continue
		}
		in := g.a.Instructions[item.Name]
		if ok, reason := g.a.Policy.Check(in); !ok {
			Logger().Debug("not a viable uop",
				zap.String("instruction", in.Name),
				zap.String("reason", reason))
			continue
		}
		nUops++
		out.Emit("")
		out.Block("case "+in.Name+":", "", func() {
			in.Write(out, instructions.TierTwo)
			if in.CheckEvalBreaker {
				out.Emit("CHECK_EVAL_BREAKER();")
			}
			out.Emit("break;")
		})
	}

	out.WriteRaw("\n")
	out.WriteRaw("#undef TIER_TWO\n")

	Logger().Debug("wrote executor cases", zap.String("file", filename), zap.Int("uops", nUops))
	return out.Err()
}

type stackEffect struct {
	name           string
	popped, pushed string
}

// WriteMetadata writes the opcode metadata header.
func (g *Generator) WriteMetadata(w io.Writer, filename string) error {
	out := g.newFormatter(w, filename, 0, false)
	g.writeHeader(out)

	var pseudos []string
	var effects []stackEffect
	formats := map[string]bool{}
	for _, item := range g.a.Everything {
		switch item.Kind {
		case analysis.ItemInstruction:
			in := g.a.Instructions[item.Name]
			formats[in.InstrFmt] = true
			if in.Kind == decl.KindOp && !g.a.Policy.Viable(in) {
				continue
			}
			popped, pushed := in.StackEffectStrings()
			effects = append(effects, stackEffect{in.Name, popped, pushed})
		case analysis.ItemMacro:
			mac := g.a.Macros[item.Name]
			formats[mac.InstrFmt] = true
			popped, pushed, growth := mac.StackEffectStrings()
			if growth {
				Logger().Warn("macro stack effect ignores intermediate growth", zap.String("macro", mac.Name))
			}
			effects = append(effects, stackEffect{mac.Name, popped, pushed})
		case analysis.ItemPseudo:
			ps := g.a.Pseudos[item.Name]
			formats[ps.InstrFmt] = true
			popped, pushed := ps.StackEffectStrings()
			effects = append(effects, stackEffect{ps.Name, popped, pushed})
			pseudos = append(pseudos, ps.Name)
		}
	}

	out.Emit("")
	out.Emit("#define IS_PSEUDO_INSTR(OP)  ( \\")
	for _, name := range pseudos {
		out.Emit("    ((OP) == " + name + ") || \\")
	}
	out.Emit("    0)")

	out.Emit("")
	out.Emit("#include <stdbool.h>")

	writeEffectFunction(out, "popped", effects, func(e stackEffect) string { return e.popped })
	writeEffectFunction(out, "pushed", effects, func(e stackEffect) string { return e.pushed })

	sorted := make([]string, 0, len(formats))
	for f := range formats {
		sorted = append(sorted, f)
	}
	sort.Strings(sorted)
	out.Emit("")
	out.Block("enum InstructionFormat", ";", func() {
		for _, f := range sorted {
			out.Emit(instrFmtPrefix + f + ",")
		}
	})

	out.Emit("")
	out.Emit("#define IS_VALID_OPCODE(OP) \\")
	out.Emit("    (((OP) >= 0) && ((OP) < OPCODE_METADATA_SIZE) && \\")
	out.Emit("     (_PyOpcode_opcode_metadata[(OP)].valid_entry))")

	out.Emit("")
	flags.EmitMacros(out)

	out.Emit("")
	out.Block("struct opcode_metadata", ";", func() {
		out.Emit("bool valid_entry;")
		out.Emit("enum InstructionFormat instr_format;")
		out.Emit("int flags;")
	})

	out.Emit("")
	out.Emit("#define OPARG_FULL 0")
	out.Emit("#define OPARG_CACHE_1 1")
	out.Emit("#define OPARG_CACHE_2 2")
	out.Emit("#define OPARG_CACHE_4 4")

	out.Emit("")
	out.Block("struct opcode_macro_expansion", ";", func() {
		out.Emit("int nuops;")
		out.Emit("struct { int16_t uop; int8_t size; int8_t offset; } uops[8];")
	})

	out.Emit("")
	out.Emit("#define OPCODE_METADATA_FMT(OP) (_PyOpcode_opcode_metadata[(OP)].instr_format)")
	out.Emit("#define SAME_OPCODE_METADATA(OP1, OP2) \\")
	out.Emit("        (OPCODE_METADATA_FMT(OP1) == OPCODE_METADATA_FMT(OP2))")
	out.Emit("")
	out.Emit("#define OPCODE_METADATA_SIZE 512")
	out.Emit("#define OPCODE_UOP_NAME_SIZE 512")
	out.Emit("#define OPCODE_MACRO_EXPANSION_SIZE 256")

	g.writeTable(out, "const struct opcode_metadata _PyOpcode_opcode_metadata[OPCODE_METADATA_SIZE]", g.metadataRows)
	g.writeTable(out, "const struct opcode_macro_expansion _PyOpcode_macro_expansion[OPCODE_MACRO_EXPANSION_SIZE]", g.expansionRows)
	g.writeTable(out, "const char * const _PyOpcode_uop_name[OPCODE_UOP_NAME_SIZE]", g.uopNameRows)

	return out.Err()
}

func writeEffectFunction(out *formatter.Formatter, direction string, effects []stackEffect, pick func(stackEffect) string) {
	fn := "_PyOpcode_num_" + direction + "(int opcode, int oparg, bool jump)"
	out.Emit("")
	out.Emit("#ifndef NEED_OPCODE_METADATA")
	out.Emit("extern int " + fn + ";")
	out.Emit("#else")
	out.Emit("int")
	out.Block(fn, "", func() {
		out.Block("switch(opcode)", "", func() {
			for _, e := range effects {
				out.Emit("case " + e.name + ":")
				out.Emit("    return " + pick(e) + ";")
			}
			out.Emit("default:")
			out.Emit("    return -1;")
		})
	})
	out.Emit("#endif")
}

// writeTable emits an extern declaration or, with NEED_OPCODE_METADATA,
// the initialized table.
func (g *Generator) writeTable(out *formatter.Formatter, declaration string, rows func(*formatter.Formatter)) {
	out.Emit("")
	out.Emit("#ifndef NEED_OPCODE_METADATA")
	out.Emit("extern " + declaration + ";")
	out.Emit("#else // if NEED_OPCODE_METADATA")
	out.Block(declaration+" =", ";", func() { rows(out) })
	out.Emit("#endif // NEED_OPCODE_METADATA")
}

func (g *Generator) metadataRows(out *formatter.Formatter) {
	for _, item := range g.a.Everything {
		switch item.Kind {
		case analysis.ItemInstruction:
			in := g.a.Instructions[item.Name]
			if in.Kind == decl.KindOp {
				continue
			}
			out.Emit("[" + in.Name + "] = { true, " + instrFmtPrefix + in.InstrFmt + ", " + in.Flags.String() + " },")
		case analysis.ItemMacro:
			mac := g.a.Macros[item.Name]
			out.Emit("[" + mac.Name + "] = { true, " + instrFmtPrefix + mac.InstrFmt + ", " + mac.Flags.String() + " },")
		case analysis.ItemPseudo:
			ps := g.a.Pseudos[item.Name]
			out.Emit("[" + ps.Name + "] = { true, -1, " + ps.Flags.String() + " },")
		}
	}
}

type expansion struct {
	uop          string
	size, offset int
}

func (g *Generator) expansionRows(out *formatter.Formatter) {
	for _, item := range g.a.Everything {
		switch item.Kind {
		case analysis.ItemInstruction:
			in := g.a.Instructions[item.Name]
			if in.Kind == decl.KindInst && g.a.Policy.Viable(in) {
				writeExpansion(out, in.Name, []expansion{{uop: in.Name}})
			}
		case analysis.ItemMacro:
			if exps, ok := g.macroExpansion(g.a.Macros[item.Name]); ok {
				Logger().Debug("macro expansion", zap.String("macro", item.Name), zap.Int("uops", len(exps)))
				writeExpansion(out, item.Name, exps)
			}
		}
	}
}

// macroExpansion lists the uops of mac with the cache each one reads.
// A component that uses oparg or has no active cache takes the full
// oparg, since the operand can carry only one of them.
func (g *Generator) macroExpansion(mac *instructions.MacroInstruction) ([]expansion, bool) {
	var exps []expansion
	for _, c := range mac.Components() {
		if ok, reason := g.a.Policy.Check(c.Instr); !ok {
			Logger().Debug("macro has no uop expansion",
				zap.String("macro", mac.Name),
				zap.String("part", c.Instr.Name),
				zap.String("reason", reason))
			return nil, false
		}
		e := expansion{uop: c.Instr.Name}
		if !c.Instr.Flags.Has(flags.HasArg) && len(c.ActiveCaches) == 1 {
			e.size = c.ActiveCaches[0].Effect.Size
			e.offset = c.ActiveCaches[0].Offset
		}
		exps = append(exps, e)
	}
	return exps, len(exps) > 0
}

func writeExpansion(out *formatter.Formatter, name string, exps []expansion) {
	pieces := make([]string, len(exps))
	for i, e := range exps {
		pieces[i] = "{ " + e.uop + ", " + strconv.Itoa(e.size) + ", " + strconv.Itoa(e.offset) + " }"
	}
	out.Emit("[" + name + "] = { .nuops = " + strconv.Itoa(len(pieces)) + ", .uops = { " + strings.Join(pieces, ", ") + " } },")
}

func (g *Generator) uopNameRows(out *formatter.Formatter) {
	for _, item := range g.a.Everything {
		if item.Kind != analysis.ItemInstruction {
			continue
		}
		in := g.a.Instructions[item.Name]
		if in.Kind == decl.KindOp && g.a.Policy.Viable(in) {
			out.Emit("[" + in.Name + "] = \"" + in.Name + "\",")
		}
	}
}
