// Package formatter writes indented C source with optional #line
// directives and provides the primitives used to bind stack effects to
// locals: declarations, assignments and stack pointer adjustments.
package formatter

import (
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/wippyai/casegen/decl"
)

const indentUnit = "    "

var regOparg = regexp.MustCompile(`^REG\(oparg(\d+)\)$`)

// Config configures a Formatter.
type Config struct {
	// Filename names the output stream in #line directives.
	Filename string
	// Indent is the initial indentation in spaces.
	Indent int
	// LineDirectives enables #line directives mapping generated lines
	// back to the declaration source.
	LineDirectives bool
	// Comment is the line comment marker, "//" by default.
	Comment string
}

// Formatter is a line-oriented code emission sink.
//
// Write errors are sticky: after the first failure all output is
// dropped and Err reports the failure.
type Formatter struct {
	w               io.Writer
	err             error
	prefix          string
	comment         string
	filename        string
	nominalFilename string
	lineno          int
	nominalLineno   int
	lineDirectives  bool
}

// New creates a Formatter writing to w.
func New(w io.Writer, cfg Config) *Formatter {
	comment := cfg.Comment
	if comment == "" {
		comment = "//"
	}
	name := PrettifyFilename(cfg.Filename)
	return &Formatter{
		w:               w,
		prefix:          strings.Repeat(" ", cfg.Indent),
		comment:         comment,
		filename:        name,
		nominalFilename: name,
		lineno:          1,
		nominalLineno:   1,
		lineDirectives:  cfg.LineDirectives,
	}
}

// Err returns the first write error, if any.
func (f *Formatter) Err() error {
	return f.err
}

// Comment returns the line comment marker.
func (f *Formatter) Comment() string {
	return f.comment
}

// Lineno returns the 1-based line number of the next line to be written.
func (f *Formatter) Lineno() int {
	return f.lineno
}

// WriteRaw writes s without adding the indentation prefix.
func (f *Formatter) WriteRaw(s string) {
	if f.err != nil {
		return
	}
	if _, err := io.WriteString(f.w, s); err != nil {
		f.err = err
		return
	}
	n := strings.Count(s, "\n")
	f.lineno += n
	f.nominalLineno += n
}

// Emit writes one indented line. An empty line is written without prefix.
func (f *Formatter) Emit(line string) {
	if line == "" {
		f.WriteRaw("\n")
		return
	}
	f.WriteRaw(f.prefix + line + "\n")
}

// SetLineno maps the following output to lineno in filename.
// It is a no-op unless line directives are enabled.
func (f *Formatter) SetLineno(lineno int, filename string) {
	if !f.lineDirectives {
		return
	}
	if lineno != f.nominalLineno || filename != f.nominalFilename {
		f.Emit("#line " + strconv.Itoa(lineno) + " " + strconv.Quote(filename))
		f.nominalLineno = lineno
		f.nominalFilename = filename
	}
}

// ResetLineno maps the following output back to the output file itself.
func (f *Formatter) ResetLineno() {
	if f.lineno != f.nominalLineno || f.filename != f.nominalFilename {
		f.SetLineno(f.lineno+1, f.filename)
	}
}

// Indent runs fn with one more level of indentation.
func (f *Formatter) Indent(fn func()) {
	f.prefix += indentUnit
	defer func() { f.prefix = f.prefix[:len(f.prefix)-len(indentUnit)] }()
	fn()
}

// Block emits "head {", runs fn indented, then "}" followed by tail.
func (f *Formatter) Block(head, tail string, fn func()) {
	if head != "" {
		f.Emit(head + " {")
	} else {
		f.Emit("{")
	}
	f.Indent(fn)
	f.Emit("}" + tail)
}

// StackAdjust emits the STACK_SHRINK/STACK_GROW calls that move the
// stack pointer from the input footprint to the output footprint.
func (f *Formatter) StackAdjust(inputs, outputs []decl.StackEffect) {
	shrink, isym := ListEffectSize(inputs)
	grow, osym := ListEffectSize(outputs)
	diff := grow - shrink
	if isym != "" && isym != osym {
		f.Emit("STACK_SHRINK(" + isym + ");")
	}
	if diff < 0 {
		f.Emit("STACK_SHRINK(" + strconv.Itoa(-diff) + ");")
	}
	if diff > 0 {
		f.Emit("STACK_GROW(" + strconv.Itoa(diff) + ");")
	}
	if osym != "" && osym != isym {
		f.Emit("STACK_GROW(" + osym + ");")
	}
}

// Declare emits a local for dst initialized from src.Name.
// A nil src leaves the local uninitialized, or NULL when dst is
// conditional. Unused effects and effects guarded by "0" are skipped.
func (f *Formatter) Declare(dst decl.StackEffect, src *decl.StackEffect) {
	if dst.Name == decl.Unused || dst.Cond == "0" {
		return
	}
	typ := dst.Type
	if typ == "" {
		typ = "PyObject *"
	}
	var init string
	switch {
	case src != nil:
		init = " = " + Cast(dst, *src) + src.Name
	case dst.Cond != "":
		init = " = NULL"
	}
	sep := " "
	if strings.HasSuffix(typ, "*") {
		sep = ""
	}
	f.Emit(typ + sep + dst.Name + init + ";")
}

// Assign emits dst = src, honoring src's condition. Array effects are
// filled in place by the body and are never copied.
func (f *Formatter) Assign(dst, src decl.StackEffect) {
	if src.Name == decl.Unused || src.Size != "" || dst.Name == src.Name {
		return
	}
	cast := Cast(dst, src)
	if regOparg.MatchString(dst.Name) {
		f.Emit("Py_XSETREF(" + dst.Name + ", " + cast + src.Name + ");")
		return
	}
	stmt := dst.Name + " = " + cast + src.Name + ";"
	if src.Cond != "" && src.Cond != "1" {
		if src.Cond == "0" {
			return
		}
		stmt = "if (" + src.Cond + ") { " + stmt + " }"
	}
	f.Emit(stmt)
}

// StaticAssertFamilySize emits a static_assert tying the family's
// declared cache size to cacheOffset when name heads the family.
func (f *Formatter) StaticAssertFamilySize(name string, family *decl.Family, cacheOffset int) {
	if family == nil || family.Name != name || family.Size == "" {
		return
	}
	f.Emit("static_assert(" + family.Size + " == " + strconv.Itoa(cacheOffset) + `, "incorrect cache size");`)
}

// Cast returns the C cast needed to store src into dst, or "".
func Cast(dst, src decl.StackEffect) string {
	if src.Type == dst.Type {
		return ""
	}
	typ := dst.Type
	if typ == "" {
		typ = "PyObject *"
	}
	return "(" + typ + ")"
}

// PrettifyFilename shortens filename to the part below a "Python",
// "Include" or "Tools" directory, with forward slashes.
func PrettifyFilename(filename string) string {
	parts := strings.Split(filepath.ToSlash(filename), "/")
	for i := len(parts) - 1; i >= 0; i-- {
		switch parts[i] {
		case "Python", "Include", "Tools", "Lib":
			return strings.Join(parts[i:], "/")
		}
	}
	return filepath.ToSlash(filename)
}
