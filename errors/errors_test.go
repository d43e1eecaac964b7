package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:       PhaseAnalyze,
				Kind:        KindMalformedBlock,
				Instruction: "LOAD_FAST",
				Location:    "bytecodes.c:12",
				Detail:      "missing brace",
			},
			contains: []string{"bytecodes.c:12: ", "[analyze]", "malformed_block", "in LOAD_FAST", "missing brace"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseLoad,
				Kind:  KindInvalidInput,
			},
			contains: []string{"[load]", "invalid_input"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseWrite,
				Kind:   KindIO,
				Detail: "write output",
				Cause:  errors.New("disk full"),
			},
			contains: []string{"[write]", "io", "write output", "caused by", "disk full"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseLoad,
		Kind:  KindIO,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase:       PhaseAnalyze,
		Kind:        KindFamilyMismatch,
		Instruction: "BINARY_OP_ADD_INT",
	}

	if !err.Is(&Error{Phase: PhaseAnalyze, Kind: KindFamilyMismatch}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseLoad, Kind: KindFamilyMismatch}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseAnalyze, Kind: KindMacroStack}) {
		t.Error("Is should not match different kind")
	}

	joined := errors.Join(errors.New("other"), err)
	if !errors.Is(joined, &Error{Phase: PhaseAnalyze, Kind: KindFamilyMismatch}) {
		t.Error("errors.Is should find the error inside a join")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseAnalyze, KindMalformedBlock).
		Instruction("NOP").
		At("bytecodes.c", 7).
		Value("{").
		Cause(cause).
		Detail("expected %q, got %q", "{", "(").
		Build()

	if err.Phase != PhaseAnalyze {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseAnalyze)
	}
	if err.Kind != KindMalformedBlock {
		t.Errorf("Kind = %v, want %v", err.Kind, KindMalformedBlock)
	}
	if err.Instruction != "NOP" {
		t.Errorf("Instruction = %v, want NOP", err.Instruction)
	}
	if err.Location != "bytecodes.c:7" {
		t.Errorf("Location = %v, want bytecodes.c:7", err.Location)
	}
	if err.Value != "{" {
		t.Errorf("Value = %v, want {", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != `expected "{", got "("` {
		t.Errorf("Detail = %v", err.Detail)
	}
}

func TestLocation(t *testing.T) {
	tests := []struct {
		file string
		line int
		want string
	}{
		{"", 0, ""},
		{"a.c", 0, "a.c"},
		{"", 3, "line 3"},
		{"a.c", 3, "a.c:3"},
	}
	for _, tt := range tests {
		if got := Location(tt.file, tt.line); got != tt.want {
			t.Errorf("Location(%q, %d) = %q, want %q", tt.file, tt.line, got, tt.want)
		}
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("MalformedBlock", func(t *testing.T) {
		err := MalformedBlock("NOP", "b.c", 4, "no braces")
		if err.Kind != KindMalformedBlock || err.Location != "b.c:4" {
			t.Errorf("got %+v", err)
		}
	})

	t.Run("InvalidEffect", func(t *testing.T) {
		err := InvalidEffect(PhaseLoad, "CALL", "args", "array with condition")
		if err.Kind != KindInvalidEffect {
			t.Errorf("Kind = %v, want %v", err.Kind, KindInvalidEffect)
		}
		if !strings.Contains(err.Detail, `"args"`) {
			t.Errorf("Detail = %v, should name the effect", err.Detail)
		}
	})

	t.Run("UnknownInstruction", func(t *testing.T) {
		err := UnknownInstruction("LOAD_ADD", "_LOAD")
		if err.Kind != KindUnknownInstruction || err.Value != "_LOAD" {
			t.Errorf("got %+v", err)
		}
	})

	t.Run("Duplicate", func(t *testing.T) {
		err := Duplicate("NOP", "b.c", 9)
		if err.Kind != KindDuplicate {
			t.Errorf("Kind = %v, want %v", err.Kind, KindDuplicate)
		}
	})

	t.Run("FamilyMismatch", func(t *testing.T) {
		err := FamilyMismatch("BINARY_OP", "BINARY_OP_ADD_INT", "cache offset 2, want 1")
		if err.Kind != KindFamilyMismatch || !strings.Contains(err.Detail, "BINARY_OP") {
			t.Errorf("got %+v", err)
		}
	})

	t.Run("AlreadyFinalized", func(t *testing.T) {
		err := AlreadyFinalized("NOP")
		if err.Kind != KindAlreadyFinalized {
			t.Errorf("Kind = %v, want %v", err.Kind, KindAlreadyFinalized)
		}
	})

	t.Run("IO", func(t *testing.T) {
		cause := errors.New("denied")
		err := IO(PhaseWrite, "out.c.h", cause)
		if !errors.Is(err, cause) {
			t.Error("IO error should unwrap to cause")
		}
	})
}
