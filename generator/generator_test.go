package generator

import (
	"bytes"
	stderrors "errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/casegen/analysis"
	"github.com/wippyai/casegen/decl"
	"github.com/wippyai/casegen/errors"
)

const bytecodes = `
source = "Python/bytecodes.c"

[[inst]]
name = "LOAD_FAST"
line = 10
outputs = [{ name = "value" }]
block = """
{
            value = GETLOCAL(oparg);
            Py_INCREF(value);
}
"""

[[inst]]
name = "BINARY_OP"
line = 20
inputs = [{ name = "counter", cache = 1 }, { name = "lhs" }, { name = "rhs" }]
outputs = [{ name = "res" }]
block = """
{
            res = binary_ops[oparg](lhs, rhs);
            DECREF_INPUTS();
            ERROR_IF(res == NULL, error);
}
"""

[[family]]
name = "BINARY_OP"
members = ["BINARY_OP_ADD_INT"]

[[inst]]
name = "_GUARD_BOTH_INT"
kind = "op"
line = 30
inputs = [{ name = "left" }, { name = "right" }]
outputs = [{ name = "left" }, { name = "right" }]
block = """
{
            DEOPT_IF(!PyLong_CheckExact(left), BINARY_OP);
}
"""

[[inst]]
name = "_BINARY_OP_ADD_INT"
kind = "op"
line = 40
inputs = [{ name = "left" }, { name = "right" }]
outputs = [{ name = "res" }]
block = """
{
            res = _PyLong_Add(left, right);
            ERROR_IF(res == NULL, error);
}
"""

[[macro]]
name = "BINARY_OP_ADD_INT"
uops = [{ op = "_GUARD_BOTH_INT" }, { name = "unused", cache = 1 }, { op = "_BINARY_OP_ADD_INT" }]

[[inst]]
name = "JUMP_FORWARD"
line = 50
block = """
{
            JUMPBY(oparg);
}
"""

[[pseudo]]
name = "JUMP"
targets = ["JUMP_FORWARD"]
`

const overrides = `
source = "Python/overrides.c"

[[inst]]
name = "LOAD_FAST"
override = true
line = 3
outputs = [{ name = "value" }]
block = """
{
            value = GETLOCAL(oparg);
            assert(value != NULL);
            Py_INCREF(value);
}
"""
`

func analyze(t *testing.T, srcs ...string) *analysis.Analysis {
	t.Helper()
	var files []*decl.File
	for i, src := range srcs {
		f, err := decl.Parse([]byte(src), "in"+string(rune('0'+i))+".toml")
		require.NoError(t, err)
		files = append(files, f)
	}
	a, err := analysis.Analyze(analysis.Options{}, files...)
	require.NoError(t, err)
	return a
}

func TestWriteInstructions(t *testing.T) {
	g := New(analyze(t, bytecodes, overrides), Options{Digest: "abc"})

	var buf bytes.Buffer
	require.NoError(t, g.WriteInstructions(&buf, DefaultOutput))
	got := buf.String()

	require.True(t, strings.HasPrefix(got, "// This file is generated by casegen\n// from:\n"), got)
	require.Contains(t, got, "// Input digest: blake3:abc\n")
	require.Contains(t, got, "#define TIER_ONE 1\n")
	require.True(t, strings.HasSuffix(got, "#undef TIER_ONE\n"))

	require.Contains(t, got, "        // TARGET(LOAD_FAST) overridden by later definition\n")
	require.Contains(t, got, "        // Override\n        TARGET(LOAD_FAST) {\n")
	require.Contains(t, got, "assert(value != NULL);")

	require.Contains(t, got, "        TARGET(BINARY_OP) {\n            PREDICTED(BINARY_OP);\n")
	require.Contains(t, got, "        TARGET(BINARY_OP_ADD_INT) {\n")
	require.Contains(t, got, "next_instr += 1;")
	require.Contains(t, got, "DISPATCH();")

	// Ops are only reachable through their macros.
	require.NotContains(t, got, "TARGET(_GUARD_BOTH_INT)")
	require.NotContains(t, got, "TARGET(JUMP)")
	require.Less(t, strings.Index(got, "TARGET(BINARY_OP)"), strings.Index(got, "TARGET(BINARY_OP_ADD_INT)"))
}

func TestWriteInstructions_LineDirectives(t *testing.T) {
	g := New(analyze(t, bytecodes), Options{LineDirectives: true})

	var buf bytes.Buffer
	require.NoError(t, g.WriteInstructions(&buf, DefaultOutput))
	require.Contains(t, buf.String(), `#line `)
	require.Contains(t, buf.String(), `"Python/bytecodes.c"`)
}

func TestWriteExecutorInstructions(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	SetLogger(zap.New(core))
	defer SetLogger(zap.NewNop())

	g := New(analyze(t, bytecodes), Options{})

	var buf bytes.Buffer
	require.NoError(t, g.WriteExecutorInstructions(&buf, DefaultExecutorOutput))
	got := buf.String()

	require.Contains(t, got, "#define TIER_TWO 2\n")
	require.Contains(t, got, "        case LOAD_FAST: {\n")
	require.Contains(t, got, "        case _BINARY_OP_ADD_INT: {\n")
	require.Contains(t, got, "break;")
	require.NotContains(t, got, "case JUMP_FORWARD:")
	require.NotContains(t, got, "next_instr")

	rejected := logs.FilterMessage("not a viable uop").FilterField(zap.String("instruction", "JUMP_FORWARD"))
	require.Equal(t, 1, rejected.Len())
	require.Equal(t, "uses JUMPBY", rejected.All()[0].ContextMap()["reason"])
}

func TestWriteMetadata(t *testing.T) {
	g := New(analyze(t, bytecodes), Options{})

	var buf bytes.Buffer
	require.NoError(t, g.WriteMetadata(&buf, DefaultMetadataOutput))
	got := buf.String()

	require.Contains(t, got, "#define IS_PSEUDO_INSTR(OP)  ( \\\n    ((OP) == JUMP) || \\\n    0)\n")
	require.Contains(t, got, "int _PyOpcode_num_popped(int opcode, int oparg, bool jump) {\n")
	require.Contains(t, got, "        case BINARY_OP:\n            return 2;\n")
	require.Contains(t, got, "        case LOAD_FAST:\n            return 0;\n")

	require.Contains(t, got, "enum InstructionFormat {\n")
	require.Less(t, strings.Index(got, "INSTR_FMT_IB,"), strings.Index(got, "INSTR_FMT_IBC,"))

	require.Contains(t, got, "[LOAD_FAST] = { true, INSTR_FMT_IB, ")
	require.Contains(t, got, "[BINARY_OP_ADD_INT] = { true, INSTR_FMT_IBC, HAS_DEOPT_FLAG | HAS_ERROR_FLAG },")
	require.Contains(t, got, "[JUMP] = { true, -1, ")
	require.NotContains(t, got, "[_GUARD_BOTH_INT] = { true")

	require.Contains(t, got, "[BINARY_OP_ADD_INT] = { .nuops = 2, .uops = { { _GUARD_BOTH_INT, 0, 0 }, { _BINARY_OP_ADD_INT, 0, 0 } } },")
	require.Contains(t, got, "[LOAD_FAST] = { .nuops = 1, .uops = { { LOAD_FAST, 0, 0 } } },")
	require.NotContains(t, got, "[JUMP_FORWARD] = { .nuops")

	require.Contains(t, got, `[_GUARD_BOTH_INT] = "_GUARD_BOTH_INT",`)
	require.NotContains(t, got, `[LOAD_FAST] = "LOAD_FAST",`)
}

func TestWrite_Deterministic(t *testing.T) {
	writers := []struct {
		name  string
		write func(*Generator, io.Writer, string) error
	}{
		{"instructions", (*Generator).WriteInstructions},
		{"executor", (*Generator).WriteExecutorInstructions},
		{"metadata", (*Generator).WriteMetadata},
	}
	for _, w := range writers {
		t.Run(w.name, func(t *testing.T) {
			var first, second bytes.Buffer
			require.NoError(t, w.write(New(analyze(t, bytecodes, overrides), Options{LineDirectives: true}), &first, "out.h"))
			require.NoError(t, w.write(New(analyze(t, bytecodes, overrides), Options{LineDirectives: true}), &second, "out.h"))
			require.NotEmpty(t, first.String())
			require.Equal(t, first.String(), second.String())
		})
	}
}

const slotAccess = `
source = "Python/bytecodes.c"

[[inst]]
name = "_CHECK_VERSION"
kind = "op"
line = 10
inputs = [{ name = "version", cache = 2 }, { name = "owner" }]
outputs = [{ name = "owner" }]
block = """
{
            DEOPT_IF(Py_TYPE(owner)->tp_version_tag != version, LOAD_ATTR);
}
"""

[[inst]]
name = "_LOAD_SLOT"
kind = "op"
line = 20
inputs = [{ name = "index", cache = 1 }, { name = "owner" }]
outputs = [{ name = "attr" }]
block = """
{
            attr = load_slot(owner, index, oparg);
            DECREF_INPUTS();
}
"""

[[macro]]
name = "LOAD_ATTR_SLOT"
uops = [{ name = "unused", cache = 1 }, { op = "_CHECK_VERSION" }, { op = "_LOAD_SLOT" }]
`

func TestWriteMetadata_Expansion(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	SetLogger(zap.New(core))
	defer SetLogger(zap.NewNop())

	g := New(analyze(t, slotAccess), Options{})

	var buf bytes.Buffer
	require.NoError(t, g.WriteMetadata(&buf, DefaultMetadataOutput))

	// The slot load uses oparg, so its cache entry cannot ride in the operand.
	require.Contains(t, buf.String(), "[LOAD_ATTR_SLOT] = { .nuops = 2, .uops = { { _CHECK_VERSION, 2, 1 }, { _LOAD_SLOT, 0, 0 } } },")

	expanded := logs.FilterMessage("macro expansion").FilterField(zap.String("macro", "LOAD_ATTR_SLOT"))
	require.Equal(t, 1, expanded.Len())
	require.Equal(t, int64(2), expanded.All()[0].ContextMap()["uops"])
}

func writeInputs(t *testing.T, dir string, srcs ...string) []string {
	t.Helper()
	var paths []string
	for i, src := range srcs {
		p := filepath.Join(dir, "bytecodes"+string(rune('0'+i))+".toml")
		require.NoError(t, os.WriteFile(p, []byte(src), 0o644))
		paths = append(paths, p)
	}
	return paths
}

func testConfig(t *testing.T) Config {
	dir := t.TempDir()
	return Config{
		Inputs:         writeInputs(t, dir, bytecodes, overrides),
		Output:         filepath.Join(dir, "Python", "generated_cases.c.h"),
		ExecutorOutput: filepath.Join(dir, "Python", "executor_cases.c.h"),
		MetadataOutput: filepath.Join(dir, "Include", "pycore_opcode_metadata.h"),
	}
}

func TestRun(t *testing.T) {
	cfg := testConfig(t)

	report, err := Run(cfg)
	require.NoError(t, err)
	require.Len(t, report.Outputs, 3)
	require.Len(t, report.InputDigest, 64)
	require.Equal(t, 3, report.Instructions)
	require.Equal(t, 1, report.Macros)
	require.Equal(t, 1, report.Pseudos)
	require.Equal(t, 4, report.Uops)
	for _, o := range report.Outputs {
		require.True(t, o.Written, o.Path)
		require.FileExists(t, o.Path)
	}

	content, err := os.ReadFile(cfg.Output)
	require.NoError(t, err)
	require.Contains(t, string(content), "// Input digest: blake3:"+report.InputDigest+"\n")

	again, err := Run(cfg)
	require.NoError(t, err)
	require.Equal(t, report.InputDigest, again.InputDigest)
	for i, o := range again.Outputs {
		require.False(t, o.Written, o.Path)
		require.Equal(t, report.Outputs[i].Digest, o.Digest)
	}
	unchanged, err := os.ReadFile(cfg.Output)
	require.NoError(t, err)
	require.Equal(t, content, unchanged)
}

func TestRun_Check(t *testing.T) {
	cfg := testConfig(t)
	cfg.Check = true

	report, err := Run(cfg)
	require.NoError(t, err)
	require.Equal(t, []string{cfg.Output, cfg.ExecutorOutput, cfg.MetadataOutput}, report.Stale())
	require.NoFileExists(t, cfg.Output)

	cfg.Check = false
	_, err = Run(cfg)
	require.NoError(t, err)

	cfg.Check = true
	report, err = Run(cfg)
	require.NoError(t, err)
	require.Empty(t, report.Stale())
}

func TestRun_Errors(t *testing.T) {
	_, err := Run(Config{})
	requireKind(t, err, errors.KindInvalidInput)

	cfg := testConfig(t)
	cfg.ExecutorOutput = cfg.Output
	_, err = Run(cfg)
	requireKind(t, err, errors.KindInvalidInput)

	cfg = testConfig(t)
	cfg.Inputs = append(cfg.Inputs, filepath.Join(t.TempDir(), "missing.toml"))
	_, err = Run(cfg)
	requireKind(t, err, errors.KindIO)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "casegen.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
inputs = ["Python/bytecodes.c.toml"]
executor_output = "out/executor.h"
emit_line_directives = true
forbidden = ["next_instr"]
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, []string{"Python/bytecodes.c.toml"}, cfg.Inputs)
	require.True(t, cfg.EmitLineDirectives)
	require.NoError(t, cfg.Validate())

	n := cfg.normalize()
	require.Equal(t, DefaultOutput, n.Output)
	require.Equal(t, "out/executor.h", n.ExecutorOutput)

	p := cfg.Policy()
	require.Equal(t, "EXIT_TRACE", p.TraceExit)
	require.Equal(t, []string{"next_instr"}, p.Forbidden)

	require.NoError(t, os.WriteFile(path, []byte("inputs = []\ncolour = \"red\"\n"), 0o644))
	_, err = LoadConfig(path)
	requireKind(t, err, errors.KindInvalidInput)
	require.Contains(t, err.Error(), "colour")

	_, err = LoadConfig(filepath.Join(dir, "missing.toml"))
	require.Error(t, err)
}

func requireKind(t *testing.T, err error, kind errors.Kind) {
	t.Helper()
	var e *errors.Error
	require.True(t, stderrors.As(err, &e), "%v", err)
	require.Equal(t, kind, e.Kind, "%v", err)
}
