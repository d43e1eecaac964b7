package instructions

import (
	"bytes"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/casegen/decl"
	"github.com/wippyai/casegen/errors"
	"github.com/wippyai/casegen/flags"
	"github.com/wippyai/casegen/formatter"
)

func stack(names ...string) []decl.StackEffect {
	out := make([]decl.StackEffect, len(names))
	for i, n := range names {
		out[i] = decl.StackEffect{Name: n}
	}
	return out
}

func inputs(effects ...decl.StackEffect) []decl.InputEffect {
	out := make([]decl.InputEffect, len(effects))
	for i, e := range effects {
		out[i] = e
	}
	return out
}

func def(name, body string, in []decl.InputEffect, out []decl.StackEffect) *decl.InstDef {
	return &decl.InstDef{
		Name:    name,
		Kind:    decl.KindInst,
		Inputs:  in,
		Outputs: out,
		Block:   decl.NewBlock(body, "Python/bytecodes.c", 10),
	}
}

func mustInstruction(t *testing.T, d *decl.InstDef) *Instruction {
	t.Helper()
	in, err := NewInstruction(d)
	require.NoError(t, err)
	return in
}

func render(fn func(out Sink)) string {
	var buf bytes.Buffer
	fn(formatter.New(&buf, formatter.Config{}))
	return buf.String()
}

func TestExtractBlockText(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		lines   []string
		line    int
		breaker bool
	}{
		{
			name:  "multi line",
			body:  "{\n            res = x;\n}\n",
			lines: []string{"            res = x;\n"},
			line:  11,
		},
		{
			name:  "single line",
			body:  "{ z = x + y; }",
			lines: []string{" z = x + y; \n"},
			line:  10,
		},
		{
			name:  "leading blank lines",
			body:  "\n\n{\n            a;\n\n            b;\n\n}\n\n",
			lines: []string{"            a;\n", "\n", "            b;\n"},
			line:  13,
		},
		{
			name:    "eval breaker",
			body:    "{\n            a;\n            CHECK_EVAL_BREAKER();\n}",
			lines:   []string{"            a;\n"},
			line:    11,
			breaker: true,
		},
		{
			name:  "content on brace lines",
			body:  "{   a;\n            b; }",
			lines: []string{"   a;\n", "            b; \n"},
			line:  10,
		},
		{
			name: "empty",
			body: "{}",
			line: 10,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines, breaker, line, err := extractBlockText(def("X", tt.body, nil, nil))
			require.NoError(t, err)
			require.Equal(t, tt.lines, lines)
			require.Equal(t, tt.line, line)
			require.Equal(t, tt.breaker, breaker)
		})
	}
}

func TestExtractBlockText_Malformed(t *testing.T) {
	for _, body := range []string{"", "   \n", "z = 1;", "{\n    z = 1;\n", "z = 1; }"} {
		_, err := NewInstruction(def("BAD", body, nil, nil))
		require.Error(t, err, "body %q", body)

		var e *errors.Error
		require.True(t, stderrors.As(err, &e))
		require.Equal(t, errors.KindMalformedBlock, e.Kind)
		require.Equal(t, "BAD", e.Instruction)
	}
}

func TestAlwaysExits(t *testing.T) {
	tests := []struct {
		last string
		want bool
	}{
		{"            goto error;\n", true},
		{"            return 0;\n", true},
		{"            DISPATCH();\n", true},
		{"            DISPATCH_INLINED(frame);\n", true},
		{"            GO_TO_INSTRUCTION(LOAD_ATTR);\n", true},
		{"            Py_UNREACHABLE();\n", true},
		{"            ERROR_IF(true, error);\n", true},
		{"            ERROR_IF(res == NULL, error);\n", false},
		{"                goto error;\n", false},
		{"        goto error;\n", false},
		{"            (goto_error);\n", false},
		{"            res = x;\n", false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, alwaysExits([]string{"            x;\n", tt.last}), "%q", tt.last)
	}
	require.False(t, alwaysExits(nil))
}

func TestNewInstruction(t *testing.T) {
	d := def("LOAD_ATTR_SLOT",
		"{\n            DEOPT_IF(index == 0, LOAD_ATTR);\n            res = owner[oparg];\n}\n",
		[]decl.InputEffect{
			decl.CacheEffect{Name: decl.Unused, Size: 1},
			decl.CacheEffect{Name: "type_version", Size: 2},
			decl.StackEffect{Name: "owner"},
			decl.CacheEffect{Name: "index", Size: 1},
			decl.CacheEffect{Name: decl.Unused, Size: 5},
		},
		stack("res"))
	in := mustInstruction(t, d)

	require.Equal(t, "LOAD_ATTR_SLOT", in.Name)
	require.Equal(t, decl.KindInst, in.Kind)
	require.Equal(t, 9, in.CacheOffset)
	require.Len(t, in.CacheEffects, 4)
	require.Equal(t, stack("owner"), in.InputEffects)
	require.Equal(t, []ActiveCacheEffect{
		{Effect: decl.CacheEffect{Name: "type_version", Size: 2}, Offset: 1},
		{Effect: decl.CacheEffect{Name: "index", Size: 1}, Offset: 3},
	}, in.ActiveCaches)
	require.Equal(t, "IBC00000000", in.InstrFmt)
	require.True(t, in.HasDeopt)
	require.True(t, in.Flags.Has(flags.HasArg))
	require.Empty(t, in.UnmovedNames)
	require.False(t, in.AlwaysExits)

	prev := -1
	for _, ac := range in.ActiveCaches {
		require.Greater(t, ac.Offset, prev)
		require.LessOrEqual(t, ac.Offset+ac.Effect.Size, in.CacheOffset)
		prev = ac.Offset
	}
}

func TestNewInstruction_ArgInEffects(t *testing.T) {
	in := mustInstruction(t, def("POP_N", "{\n            Py_DECREF(values[0]);\n}\n",
		inputs(decl.StackEffect{Name: "values", Type: "PyObject **", Size: "oparg"}), nil))
	require.Equal(t, "IB", in.InstrFmt)
	require.True(t, in.Flags.Has(flags.HasArg))

	in = mustInstruction(t, def("CALL_X", "{\n            res = call(callable, self);\n}\n",
		inputs(decl.StackEffect{Name: "callable"}, decl.StackEffect{Name: "self", Cond: "oparg & 1"}),
		stack("res")))
	require.Equal(t, "IB", in.InstrFmt)
	require.Equal(t, "HAS_ARG_FLAG", in.Flags.String())

	in = mustInstruction(t, def("POP_TOP", "{\n            Py_DECREF(value);\n}\n", inputs(stack("value")...), nil))
	require.Equal(t, "IX", in.InstrFmt)
}

func TestNewInstruction_InvalidEffect(t *testing.T) {
	_, err := NewInstruction(def("X", "{}", inputs(decl.StackEffect{Name: "args", Size: "oparg", Cond: "flag"}), nil))
	require.Error(t, err)

	_, err = NewInstruction(def("X", "{}", []decl.InputEffect{decl.CacheEffect{Name: "c", Size: 0}}, nil))
	require.Error(t, err)

	_, err = NewInstruction(def("X", "{}", nil, []decl.StackEffect{{Name: ""}}))
	require.Error(t, err)
}

func TestUnmovedNames(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, unmovedNames(stack("a", "b", "c"), stack("a", "b", "d")))
	require.Empty(t, unmovedNames(stack("a", "b"), stack("b", "a")))
	require.Empty(t, unmovedNames(nil, stack("a")))
}

func TestInstrFormat(t *testing.T) {
	require.Equal(t, "IBC0", instrFormat(true, 2))
	require.Equal(t, "IX", instrFormat(false, 0))
	require.Equal(t, "IXC", instrFormat(false, 1))
	require.Equal(t, "IB", instrFormat(true, 0))
}

func TestFinalize(t *testing.T) {
	in := mustInstruction(t, def("LOAD_ATTR", "{}", nil, nil))
	require.Nil(t, in.Family())
	require.False(t, in.Predicted())

	fam := &decl.Family{Name: "LOAD_ATTR", Members: []string{"LOAD_ATTR"}}
	require.NoError(t, in.Finalize(fam, true))
	require.Same(t, fam, in.Family())
	require.True(t, in.Predicted())

	err := in.Finalize(nil, false)
	require.Error(t, err)
	require.True(t, stderrors.Is(err, &errors.Error{Phase: errors.PhaseAnalyze, Kind: errors.KindAlreadyFinalized}))
	require.Same(t, fam, in.Family())
}

func TestStackEffectStrings(t *testing.T) {
	in := mustInstruction(t, def("CALL", "{}",
		inputs(decl.StackEffect{Name: "callable"}, decl.StackEffect{Name: "self", Cond: "oparg & 1"}, decl.StackEffect{Name: "args", Size: "oparg"}),
		stack("res")))
	popped, pushed := in.StackEffectStrings()
	require.Equal(t, "((oparg & 1) ? 1 : 0) + oparg + 1", popped)
	require.Equal(t, "1", pushed)
}
