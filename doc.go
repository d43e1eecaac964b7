// Package casegen generates the bytecode interpreter's instruction cases
// from a table of instruction declarations.
//
// Each declaration names an instruction, its stack and cache effects and
// the C body that implements it. From that table casegen produces the
// tier-one interpreter cases, the tier-two micro-op executor cases and
// the opcode metadata header.
//
// # Architecture Overview
//
//	casegen/
//	├── decl/            Declaration types and the TOML loader
//	├── instructions/    Instruction analysis and body emission
//	├── analysis/        Whole-table checks: overrides, families, macros
//	├── generator/       Output files, configuration and the Run driver
//	├── formatter/       Indented C writer and stack effect arithmetic
//	├── flags/           Instruction property flags
//	├── errors/          Structured error types
//	└── cmd/casegen/     Command line tool and interactive browser
//
// # Quick Start
//
// Generate every output from a configuration:
//
//	cfg, err := generator.LoadConfig("casegen.toml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	report, err := generator.Run(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(report.Uops, "micro-ops")
//
// Or drive the stages directly:
//
//	f, err := decl.Load("bytecodes.toml")
//	a, err := analysis.Analyze(analysis.Options{}, f)
//	g := generator.New(a, generator.Options{})
//	err = g.WriteInstructions(os.Stdout, "generated_cases.c.h")
//
// # Declarations
//
// Inputs are TOML files with [[inst]], [[family]], [[macro]] and
// [[pseudo]] tables. Later files may replace an instruction by setting
// override = true. Instruction bodies are C blocks; ERROR_IF and
// DECREF_INPUTS lines are rewritten during emission.
//
// # Determinism
//
// Output depends only on the input bytes. Every header records the
// blake3 digest of the inputs, and Run leaves files untouched when their
// content would not change.
package casegen
