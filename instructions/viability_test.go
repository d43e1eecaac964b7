package instructions

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/casegen/decl"
)

func TestUopPolicy(t *testing.T) {
	policy := DefaultUopPolicy()

	tests := []struct {
		name   string
		def    *decl.InstDef
		viable bool
		reason string
	}{
		{
			name:   "plain",
			def:    def("LOAD_FAST", "{\n            value = GETLOCAL(oparg);\n}\n", nil, stack("value")),
			viable: true,
		},
		{
			name:   "always exits",
			def:    def("RETURN_CONST", "{\n            return 0;\n}\n", nil, nil),
			reason: "body always exits",
		},
		{
			name: "two active caches",
			def: def("LOAD_GLOBAL_BUILTIN", "{\n            res = x;\n}\n",
				[]decl.InputEffect{
					decl.CacheEffect{Name: "mod_version", Size: 1},
					decl.CacheEffect{Name: "builtins_version", Size: 1},
				}, stack("res")),
			reason: "2 active cache effects",
		},
		{
			name: "one active cache",
			def: def("LOAD_ATTR_SLOT", "{\n            res = x;\n}\n",
				[]decl.InputEffect{
					decl.CacheEffect{Name: decl.Unused, Size: 1},
					decl.CacheEffect{Name: "index", Size: 1},
				}, stack("res")),
			viable: true,
		},
		{
			name:   "forbidden name",
			def:    def("JUMP_FORWARD", "{\n            JUMPBY(oparg);\n}\n", nil, nil),
			reason: "uses JUMPBY",
		},
		{
			name: "forbidden name only when specializing",
			def: def("BINARY_SUBSCR",
				"{\n            #if ENABLE_SPECIALIZATION\n            next_instr--;\n            #endif\n            res = x;\n}\n",
				nil, stack("res")),
			viable: true,
		},
		{
			name: "forbidden name in else branch",
			def: def("BINARY_SUBSCR_X",
				"{\n            #if ENABLE_SPECIALIZATION\n            res = y;\n            #else\n            next_instr--;\n            #endif\n}\n",
				nil, stack("res")),
			reason: "uses next_instr",
		},
		{
			name:   "trace exit",
			def:    def("EXIT_TRACE", "{\n            frame->prev_instr--;\n            goto deoptimize;\n}\n", nil, nil),
			viable: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := mustInstruction(t, tt.def)
			ok, reason := policy.Check(in)
			require.Equal(t, tt.viable, ok)
			require.Equal(t, tt.reason, reason)
			require.Equal(t, tt.viable, policy.Viable(in))
		})
	}
}

func TestUopPolicy_Custom(t *testing.T) {
	in := mustInstruction(t, def("CALL_HELPER", "{\n            res = helper(x);\n}\n", nil, stack("res")))
	require.True(t, DefaultUopPolicy().Viable(in))
	require.False(t, UopPolicy{Forbidden: []string{"helper"}}.Viable(in))

	exit := mustInstruction(t, def("EXIT_TRACE", "{\n            goto deoptimize;\n}\n", nil, nil))
	require.False(t, UopPolicy{}.Viable(exit))

	p := DefaultUopPolicy()
	p.Forbidden[0] = "changed"
	require.Equal(t, "resume_with_error", DefaultForbidden[0])
}
