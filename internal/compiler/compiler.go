// Package compiler defines the contract between the compilation service and a
// compiler backend, plus the AST model the backend produces.
package compiler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"go.lsp.dev/protocol"
)

// Phase is how far a compilation proceeds.
type Phase int

const (
	// PhaseSyntax parses only. Used for scopes without a usable classpath.
	PhaseSyntax Phase = iota
	// PhaseSemantic parses and resolves references against the unit and classpath.
	PhaseSemantic
)

func (p Phase) String() string {
	switch p {
	case PhaseSyntax:
		return "syntax"
	case PhaseSemantic:
		return "semantic"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Source is one file handed to the backend.
type Source struct {
	URI  string
	Text string
}

// Unit is one compilation request.
type Unit struct {
	Root            string
	Sources         []Source
	Classpath       []string
	Phase           Phase
	LanguageVersion string
	// Context lists classes from files outside Sources that the unit may
	// reference, keyed by qualified name. Used by incremental compiles.
	Context map[string]string
}

// Diagnostic is a backend diagnostic attributed to a document.
type Diagnostic struct {
	URI string
	protocol.Diagnostic
}

// Backend compiles a unit. A backend signals memory or runtime exhaustion
// with a ResourceExhaustedError or by panicking.
type Backend interface {
	Compile(ctx context.Context, unit Unit) (*AST, []Diagnostic, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, unit Unit) (*AST, []Diagnostic, error)

func (f BackendFunc) Compile(ctx context.Context, unit Unit) (*AST, []Diagnostic, error) {
	return f(ctx, unit)
}

// ResourceExhaustedError reports that compilation ran out of memory or hit a
// fatal runtime condition.
type ResourceExhaustedError struct {
	Reason string
	Cause  error
}

func (e *ResourceExhaustedError) Error() string {
	if e.Cause != nil {
		return "compiler resources exhausted: " + e.Reason + ": " + e.Cause.Error()
	}
	return "compiler resources exhausted: " + e.Reason
}

func (e *ResourceExhaustedError) Unwrap() error { return e.Cause }

// ClassNode is a top-level or nested type declared in a file.
type ClassNode struct {
	Name          string `json:"name"`
	QualifiedName string `json:"qualifiedName"`
	Kind          string `json:"kind"`
	Line          int    `json:"line"`
	// Signature is the externally visible shape of the class: header plus
	// member declarations without bodies.
	Signature string `json:"signature"`
}

// FileNode is the compiled form of one source file.
type FileNode struct {
	URI        string      `json:"uri"`
	Package    string      `json:"package"`
	Imports    []string    `json:"imports"`
	Classes    []ClassNode `json:"classes"`
	References []string    `json:"references"` // simple or qualified type names used in the file

	// ImportLines maps each import to its zero-based line.
	ImportLines map[string]uint32 `json:"-"`
}

// AST is the compiled form of a scope, keyed by document URI.
type AST struct {
	Files map[string]*FileNode
}

// NewAST returns an empty AST.
func NewAST() *AST {
	return &AST{Files: make(map[string]*FileNode)}
}

// File returns the node for uri or nil.
func (a *AST) File(uri string) *FileNode {
	if a == nil {
		return nil
	}
	return a.Files[uri]
}

// Merge replaces the files present in other. Files listed in removed are dropped.
func (a *AST) Merge(other *AST, removed ...string) {
	for _, uri := range removed {
		delete(a.Files, uri)
	}
	if other == nil {
		return
	}
	for uri, f := range other.Files {
		a.Files[uri] = f
	}
}

// URIs returns the document URIs in sorted order.
func (a *AST) URIs() []string {
	if a == nil {
		return nil
	}
	out := make([]string, 0, len(a.Files))
	for uri := range a.Files {
		out = append(out, uri)
	}
	sort.Strings(out)
	return out
}

// ClassIndex maps qualified class names to the URI declaring them.
func (a *AST) ClassIndex() map[string]string {
	idx := make(map[string]string)
	if a == nil {
		return idx
	}
	for uri, f := range a.Files {
		for _, c := range f.Classes {
			idx[c.QualifiedName] = uri
		}
	}
	return idx
}

// ResolveReferences returns the URIs a file depends on, resolving its type
// references through imports, its own package and fully qualified names.
// Self references are excluded.
func ResolveReferences(f *FileNode, index map[string]string) []string {
	if f == nil {
		return nil
	}
	simple := make(map[string]string) // simple name -> qualified
	for q := range index {
		pkg, name := splitQualified(q)
		if pkg == f.Package {
			simple[name] = q
		}
	}
	for _, imp := range f.Imports {
		if strings.HasSuffix(imp, ".*") {
			pkg := strings.TrimSuffix(imp, ".*")
			for q := range index {
				if p, name := splitQualified(q); p == pkg {
					simple[name] = q
				}
			}
			continue
		}
		_, name := splitQualified(imp)
		simple[name] = imp
	}

	seen := make(map[string]bool)
	var deps []string
	add := func(q string) {
		uri, ok := index[q]
		if !ok || uri == f.URI || seen[uri] {
			return
		}
		seen[uri] = true
		deps = append(deps, uri)
	}
	for _, imp := range f.Imports {
		if !strings.HasSuffix(imp, ".*") {
			add(imp)
		}
	}
	for _, ref := range f.References {
		if strings.Contains(ref, ".") {
			add(ref)
			continue
		}
		if q, ok := simple[ref]; ok {
			add(q)
		}
	}
	sort.Strings(deps)
	return deps
}

// SignatureHash hashes the signatures of every class in f. Two files with
// the same hash expose the same API surface.
func SignatureHash(f *FileNode) string {
	if f == nil {
		return ""
	}
	sigs := make([]string, 0, len(f.Classes))
	for _, c := range f.Classes {
		sigs = append(sigs, c.QualifiedName+"\x00"+c.Signature)
	}
	sort.Strings(sigs)
	h := sha256.New()
	h.Write([]byte(f.Package))
	for _, s := range sigs {
		h.Write([]byte{0})
		h.Write([]byte(s))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func splitQualified(q string) (pkg, name string) {
	i := strings.LastIndex(q, ".")
	if i < 0 {
		return "", q
	}
	return q[:i], q[i+1:]
}
