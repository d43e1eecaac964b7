package generator

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"lukechampine.com/blake3"

	"github.com/wippyai/casegen/analysis"
	"github.com/wippyai/casegen/decl"
	"github.com/wippyai/casegen/errors"
)

// Output describes one generated file.
type Output struct {
	Path string
	// Digest is the blake3 digest of the rendered content.
	Digest string
	// Written is set when the file was created or replaced.
	Written bool
	// Stale is set in check mode when the file on disk differs.
	Stale bool
}

// Report summarizes a Run.
type Report struct {
	InputDigest  string
	Outputs      []Output
	Instructions int
	Macros       int
	Pseudos      int
	Uops         int
	Analysis     *analysis.Analysis
}

// Stale returns the paths of outputs that are out of date.
func (r *Report) Stale() []string {
	var paths []string
	for _, o := range r.Outputs {
		if o.Stale {
			paths = append(paths, o.Path)
		}
	}
	return paths
}

// Run loads the configured inputs, analyzes them and renders every
// output. Files whose content would not change are left untouched.
func Run(cfg Config) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.normalize()

	a, digest, err := Analyze(cfg)
	if err != nil {
		return nil, err
	}
	policy := a.Policy

	report := &Report{InputDigest: digest, Analysis: a}
	for _, item := range a.Everything {
		switch item.Kind {
		case analysis.ItemInstruction:
			in := a.Instructions[item.Name]
			if in.Kind == decl.KindInst {
				report.Instructions++
			}
			if policy.Viable(in) {
				report.Uops++
			}
		case analysis.ItemMacro:
			report.Macros++
		case analysis.ItemPseudo:
			report.Pseudos++
		}
	}

	g := New(a, Options{Digest: digest, LineDirectives: cfg.EmitLineDirectives})
	targets := []struct {
		path  string
		write func(io.Writer, string) error
	}{
		{cfg.Output, g.WriteInstructions},
		{cfg.ExecutorOutput, g.WriteExecutorInstructions},
		{cfg.MetadataOutput, g.WriteMetadata},
	}
	for _, t := range targets {
		var buf bytes.Buffer
		if err := t.write(&buf, t.path); err != nil {
			return nil, errors.Wrap(errors.PhaseGenerate, errors.KindIO, err, "render "+t.path)
		}
		out, err := emit(t.path, buf.Bytes(), cfg.Check)
		if err != nil {
			return nil, err
		}
		report.Outputs = append(report.Outputs, out)
	}
	return report, nil
}

// Analyze loads and analyzes the configured inputs without rendering
// anything. It also returns the input digest.
func Analyze(cfg Config) (*analysis.Analysis, string, error) {
	files, digest, err := loadInputs(cfg.Inputs)
	if err != nil {
		return nil, "", err
	}
	policy := cfg.Policy()
	a, err := analysis.Analyze(analysis.Options{Policy: &policy}, files...)
	if err != nil {
		return nil, "", err
	}
	return a, digest, nil
}

// loadInputs parses every input and digests their contents in order.
func loadInputs(paths []string) ([]*decl.File, string, error) {
	h := blake3.New(32, nil)
	var files []*decl.File
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", errors.IO(errors.PhaseLoad, path, err)
		}
		f, err := decl.Parse(data, path)
		if err != nil {
			return nil, "", err
		}
		var n [8]byte
		binary.LittleEndian.PutUint64(n[:], uint64(len(data)))
		h.Write(n[:])
		h.Write(data)
		files = append(files, f)
	}
	return files, hex.EncodeToString(h.Sum(nil)), nil
}

// emit writes data to path unless the file already holds it. In check
// mode nothing is written and a difference marks the output stale.
func emit(path string, data []byte, check bool) (Output, error) {
	sum := blake3.Sum256(data)
	out := Output{Path: path, Digest: hex.EncodeToString(sum[:])}

	existing, err := os.ReadFile(path)
	switch {
	case err == nil && blake3.Sum256(existing) == sum:
		Logger().Debug("output unchanged", zap.String("file", path))
		return out, nil
	case err != nil && !os.IsNotExist(err):
		return out, errors.IO(errors.PhaseWrite, path, err)
	}

	if check {
		out.Stale = true
		Logger().Info("output is stale", zap.String("file", path))
		return out, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return out, errors.IO(errors.PhaseWrite, dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return out, errors.IO(errors.PhaseWrite, path, err)
	}
	out.Written = true
	Logger().Info("wrote output", zap.String("file", path), zap.String("digest", out.Digest))
	return out, nil
}
