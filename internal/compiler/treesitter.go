//go:build cgo

package compiler

import (
	"context"
	"fmt"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"
	"go.lsp.dev/protocol"
	"golang.org/x/mod/semver"
	"golang.org/x/sync/errgroup"
)

const (
	diagnosticSource   = "groovyls"
	maxSyntaxErrors    = 20
	recordMinVersion   = "4.0.0"
	defaultParallelism = 4
)

var classNodeTypes = map[string]string{
	"class_declaration":           "class",
	"interface_declaration":       "interface",
	"enum_declaration":            "enum",
	"record_declaration":          "record",
	"annotation_type_declaration": "annotation",
}

// TreeSitterBackend is a syntax-level backend. It parses sources with the
// Java grammar, which covers the statically typed subset of Groovy, and
// extracts declarations, references and syntax errors.
type TreeSitterBackend struct {
	// MaxSourceBytes bounds the total size of a unit. Larger units fail with
	// ResourceExhaustedError. Zero means unbounded.
	MaxSourceBytes int
	// Parallelism bounds concurrent file parses.
	Parallelism int
}

// NewTreeSitterBackend creates the reference backend.
func NewTreeSitterBackend() *TreeSitterBackend {
	return &TreeSitterBackend{Parallelism: defaultParallelism}
}

// IsAvailable reports whether the tree-sitter backend is compiled in.
func IsAvailable() bool { return true }

type parsedFile struct {
	node  *FileNode
	diags []Diagnostic
}

// Compile parses every source of the unit. In the semantic phase imports of
// project packages are checked against the classes the unit can see.
func (b *TreeSitterBackend) Compile(ctx context.Context, unit Unit) (*AST, []Diagnostic, error) {
	if b.MaxSourceBytes > 0 {
		total := 0
		for _, s := range unit.Sources {
			total += len(s.Text)
		}
		if total > b.MaxSourceBytes {
			return nil, nil, &ResourceExhaustedError{
				Reason: fmt.Sprintf("unit of %d bytes exceeds budget of %d bytes", total, b.MaxSourceBytes),
			}
		}
	}

	results := make([]parsedFile, len(unit.Sources))
	g, gctx := errgroup.WithContext(ctx)
	limit := b.Parallelism
	if limit <= 0 {
		limit = defaultParallelism
	}
	g.SetLimit(limit)

	for i, src := range unit.Sources {
		i, src := i, src
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			pf, err := parseSource(gctx, src, unit.LanguageVersion)
			if err != nil {
				return err
			}
			results[i] = pf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	ast := NewAST()
	var diags []Diagnostic
	for _, r := range results {
		ast.Files[r.node.URI] = r.node
		diags = append(diags, r.diags...)
	}

	if unit.Phase == PhaseSemantic {
		diags = append(diags, checkImports(ast, unit)...)
	}
	return ast, diags, nil
}

func parseSource(ctx context.Context, src Source, version string) (parsedFile, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(java.GetLanguage())
	text := []byte(src.Text)
	tree, err := parser.ParseCtx(ctx, nil, text)
	if err != nil {
		return parsedFile{}, fmt.Errorf("parse %s: %w", src.URI, err)
	}
	root := tree.RootNode()

	fn := &FileNode{URI: src.URI}
	refs := make(map[string]bool)
	var diags []Diagnostic

	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		switch child.Type() {
		case "package_declaration":
			fn.Package = packageName(child, text)
		case "import_declaration":
			if imp := importName(child, text); imp != "" {
				fn.Imports = append(fn.Imports, imp)
				if fn.ImportLines == nil {
					fn.ImportLines = make(map[string]uint32)
				}
				fn.ImportLines[imp] = child.StartPoint().Row
			}
		}
	}

	walk(root, func(n *sitter.Node) bool {
		if kind, ok := classNodeTypes[n.Type()]; ok {
			fn.Classes = append(fn.Classes, classNode(n, text, fn.Package, kind))
			if kind == "record" && versionBelow(version, recordMinVersion) {
				diags = append(diags, Diagnostic{URI: src.URI, Diagnostic: protocol.Diagnostic{
					Range:    nodeRange(n),
					Severity: protocol.DiagnosticSeverityWarning,
					Source:   diagnosticSource,
					Message:  fmt.Sprintf("record declarations require Groovy %s or later (project uses %s)", recordMinVersion, version),
				}})
			}
		}
		switch n.Type() {
		case "type_identifier":
			refs[n.Content(text)] = true
		case "scoped_type_identifier":
			refs[n.Content(text)] = true
			return false
		case "method_invocation":
			if obj := n.ChildByFieldName("object"); obj != nil && obj.Type() == "identifier" {
				name := obj.Content(text)
				if name != "" && name[0] >= 'A' && name[0] <= 'Z' {
					refs[name] = true
				}
			}
		}
		return true
	})

	diags = append(diags, syntaxErrors(root, src.URI)...)

	for r := range refs {
		fn.References = append(fn.References, r)
	}
	sort.Strings(fn.References)
	return parsedFile{node: fn, diags: diags}, nil
}

func walk(n *sitter.Node, visit func(*sitter.Node) bool) {
	if n == nil || !visit(n) {
		return
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		walk(n.NamedChild(i), visit)
	}
}

func packageName(n *sitter.Node, src []byte) string {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c.Type() == "scoped_identifier" || c.Type() == "identifier" {
			return c.Content(src)
		}
	}
	return ""
}

func importName(n *sitter.Node, src []byte) string {
	name := ""
	wildcard := false
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		switch c.Type() {
		case "static":
			// static imports name members, not classes
			return ""
		case "scoped_identifier", "identifier":
			name = c.Content(src)
		case "asterisk":
			wildcard = true
		}
	}
	if name == "" {
		return ""
	}
	if wildcard {
		return name + ".*"
	}
	return name
}

func classNode(n *sitter.Node, src []byte, pkg, kind string) ClassNode {
	name := ""
	if nameNode := n.ChildByFieldName("name"); nameNode != nil {
		name = nameNode.Content(src)
	}
	qualified := enclosingPrefix(n, src) + name
	if pkg != "" {
		qualified = pkg + "." + qualified
	}
	return ClassNode{
		Name:          name,
		QualifiedName: qualified,
		Kind:          kind,
		Line:          int(n.StartPoint().Row) + 1,
		Signature:     classSignature(n, src),
	}
}

// enclosingPrefix returns "Outer." for nested declarations.
func enclosingPrefix(n *sitter.Node, src []byte) string {
	var parts []string
	for p := n.Parent(); p != nil; p = p.Parent() {
		if _, ok := classNodeTypes[p.Type()]; ok {
			if nameNode := p.ChildByFieldName("name"); nameNode != nil {
				parts = append([]string{nameNode.Content(src)}, parts...)
			}
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, ".") + "."
}

func classSignature(n *sitter.Node, src []byte) string {
	body := n.ChildByFieldName("body")
	var b strings.Builder
	if body == nil {
		b.WriteString(normalize(n.Content(src)))
		return b.String()
	}
	b.WriteString(normalize(string(src[n.StartByte():body.StartByte()])))

	for i := 0; i < int(body.NamedChildCount()); i++ {
		m := body.NamedChild(i)
		switch m.Type() {
		case "method_declaration", "constructor_declaration", "field_declaration", "constant_declaration", "enum_constant":
			if isPrivate(m, src) {
				continue
			}
			end := m.EndByte()
			if mb := m.ChildByFieldName("body"); mb != nil {
				end = mb.StartByte()
			}
			if m.Type() == "field_declaration" {
				// initializers are not part of the API
				if d := m.ChildByFieldName("declarator"); d != nil {
					if v := d.ChildByFieldName("value"); v != nil {
						end = v.StartByte()
					}
				}
			}
			b.WriteString(";")
			b.WriteString(normalize(string(src[m.StartByte():end])))
		}
	}
	return b.String()
}

func isPrivate(n *sitter.Node, src []byte) bool {
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c.Type() == "modifiers" {
			for _, tok := range strings.Fields(c.Content(src)) {
				if tok == "private" {
					return true
				}
			}
		}
	}
	return false
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func syntaxErrors(root *sitter.Node, uri string) []Diagnostic {
	if !root.HasError() {
		return nil
	}
	var diags []Diagnostic
	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		if len(diags) >= maxSyntaxErrors {
			return
		}
		switch {
		case n.IsMissing():
			diags = append(diags, Diagnostic{URI: uri, Diagnostic: protocol.Diagnostic{
				Range:    nodeRange(n),
				Severity: protocol.DiagnosticSeverityError,
				Source:   diagnosticSource,
				Message:  fmt.Sprintf("Syntax error: missing %s", n.Type()),
			}})
			return
		case n.IsError():
			diags = append(diags, Diagnostic{URI: uri, Diagnostic: protocol.Diagnostic{
				Range:    nodeRange(n),
				Severity: protocol.DiagnosticSeverityError,
				Source:   diagnosticSource,
				Message:  "Syntax error: unexpected input",
			}})
			return
		}
		if !n.HasError() {
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			visit(n.Child(i))
		}
	}
	visit(root)
	return diags
}

// checkImports reports single-type imports naming a package declared in the
// unit or its context whose class cannot be found there.
func checkImports(ast *AST, unit Unit) []Diagnostic {
	known := ast.ClassIndex()
	for q, uri := range unit.Context {
		if _, ok := known[q]; !ok {
			known[q] = uri
		}
	}
	packages := make(map[string]bool)
	for q := range known {
		if pkg, _ := splitQualified(q); pkg != "" {
			packages[pkg] = true
		}
	}

	var diags []Diagnostic
	for _, uri := range ast.URIs() {
		f := ast.Files[uri]
		for _, imp := range f.Imports {
			if strings.HasSuffix(imp, ".*") {
				continue
			}
			pkg, _ := splitQualified(imp)
			if !packages[pkg] {
				continue
			}
			if _, ok := known[imp]; ok {
				continue
			}
			line := f.ImportLines[imp]
			diags = append(diags, Diagnostic{URI: uri, Diagnostic: protocol.Diagnostic{
				Range: protocol.Range{
					Start: protocol.Position{Line: line},
					End:   protocol.Position{Line: line, Character: uint32(len("import " + imp))},
				},
				Severity: protocol.DiagnosticSeverityError,
				Source:   diagnosticSource,
				Message:  "unable to resolve class " + imp,
			}})
		}
	}
	return diags
}

func nodeRange(n *sitter.Node) protocol.Range {
	s, e := n.StartPoint(), n.EndPoint()
	return protocol.Range{
		Start: protocol.Position{Line: s.Row, Character: s.Column},
		End:   protocol.Position{Line: e.Row, Character: e.Column},
	}
}

func versionBelow(version, min string) bool {
	if version == "" {
		return false
	}
	v := "v" + strings.TrimPrefix(version, "v")
	if !semver.IsValid(v) {
		return false
	}
	return semver.Compare(v, "v"+min) < 0
}
