package formatter

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/wippyai/casegen/decl"
)

var simpleExpr = regexp.MustCompile(`^\w+$`)

// EffectSize splits the stack footprint of one effect into a numeric
// part and a symbolic part.
//
// Array effects with a condition are rejected at load time; reaching
// one here is a programming error and panics.
func EffectSize(e decl.StackEffect) (int, string) {
	switch {
	case e.Size != "":
		if e.Cond != "" {
			panic("formatter: array effect " + e.Name + " cannot have a condition")
		}
		return 0, e.Size
	case e.Cond != "":
		switch e.Cond {
		case "0":
			return 0, ""
		case "1":
			return 1, ""
		}
		return 0, MaybeParenthesize(e.Cond) + " ? 1 : 0"
	}
	return 1, ""
}

// ListEffectSize sums EffectSize over effects. Symbolic parts are
// parenthesized when needed and joined with " + ".
func ListEffectSize(effects []decl.StackEffect) (int, string) {
	numeric := 0
	var symbolic []string
	for _, e := range effects {
		n, sym := EffectSize(e)
		numeric += n
		if sym != "" {
			symbolic = append(symbolic, MaybeParenthesize(sym))
		}
	}
	return numeric, strings.Join(symbolic, " + ")
}

// StringEffectSize renders a (numeric, symbolic) pair as one expression.
func StringEffectSize(numeric int, symbolic string) string {
	switch {
	case numeric != 0 && symbolic != "":
		return strconv.Itoa(numeric) + " + " + symbolic
	case symbolic != "":
		return symbolic
	}
	return strconv.Itoa(numeric)
}

// ListSizeString is StringEffectSize(ListEffectSize(effects)).
func ListSizeString(effects []decl.StackEffect) string {
	return StringEffectSize(ListEffectSize(effects))
}

// MaybeParenthesize wraps sym in parentheses unless it is a single word.
func MaybeParenthesize(sym string) string {
	if simpleExpr.MatchString(sym) {
		return sym
	}
	return "(" + sym + ")"
}
