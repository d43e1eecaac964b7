package instructions

import "regexp"

var (
	errorIfRe      = regexp.MustCompile(`^(\s*)ERROR_IF\((.+), (\w+)\);\s*(?://.*)?\s*$`)
	decrefInputsRe = regexp.MustCompile(`^(\s*)DECREF_INPUTS\(\);\s*(?://.*)?\s*$`)
)

// RewrittenLine is the classification of one body line.
type RewrittenLine interface {
	isRewrittenLine()
}

// ErrorIfLine is an ERROR_IF(cond, label); statement.
type ErrorIfLine struct {
	Indent string
	Cond   string
	Label  string
}

// DecrefInputsLine is a DECREF_INPUTS(); statement.
type DecrefInputsLine struct {
	Indent string
}

// VerbatimLine is copied to the output unchanged.
type VerbatimLine struct {
	Text string
}

func (ErrorIfLine) isRewrittenLine()      {}
func (DecrefInputsLine) isRewrittenLine() {}
func (VerbatimLine) isRewrittenLine()     {}

// RewriteLine classifies a body line. Trailing // comments are allowed
// after the recognized macros; anything else is verbatim.
func RewriteLine(line string) RewrittenLine {
	if m := errorIfRe.FindStringSubmatch(line); m != nil {
		return ErrorIfLine{Indent: m[1], Cond: m[2], Label: m[3]}
	}
	if m := decrefInputsRe.FindStringSubmatch(line); m != nil {
		return DecrefInputsLine{Indent: m[1]}
	}
	return VerbatimLine{Text: line}
}
