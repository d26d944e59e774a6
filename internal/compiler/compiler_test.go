package compiler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveReferences(t *testing.T) {
	ast := NewAST()
	ast.Files["file:///ws/src/a/A.groovy"] = &FileNode{
		URI:     "file:///ws/src/a/A.groovy",
		Package: "a",
		Classes: []ClassNode{{Name: "A", QualifiedName: "a.A"}},
	}
	ast.Files["file:///ws/src/a/Helper.groovy"] = &FileNode{
		URI:     "file:///ws/src/a/Helper.groovy",
		Package: "a",
		Classes: []ClassNode{{Name: "Helper", QualifiedName: "a.Helper"}},
	}
	ast.Files["file:///ws/src/b/B.groovy"] = &FileNode{
		URI:     "file:///ws/src/b/B.groovy",
		Package: "b",
		Classes: []ClassNode{{Name: "B", QualifiedName: "b.B"}},
	}
	ast.Files["file:///ws/src/c/C.groovy"] = &FileNode{
		URI:     "file:///ws/src/c/C.groovy",
		Package: "c",
		Classes: []ClassNode{{Name: "C", QualifiedName: "c.C"}},
	}

	user := &FileNode{
		URI:        "file:///ws/src/a/A.groovy",
		Package:    "a",
		Imports:    []string{"b.B", "c.*", "java.util.List"},
		References: []string{"A", "Helper", "C", "List", "String"},
	}

	deps := ResolveReferences(user, ast.ClassIndex())

	assert.Equal(t, []string{
		"file:///ws/src/a/Helper.groovy",
		"file:///ws/src/b/B.groovy",
		"file:///ws/src/c/C.groovy",
	}, deps)
}

func TestResolveReferencesQualified(t *testing.T) {
	index := map[string]string{"x.y.Z": "file:///ws/Z.groovy"}
	f := &FileNode{URI: "file:///ws/Q.groovy", References: []string{"x.y.Z"}}

	assert.Equal(t, []string{"file:///ws/Z.groovy"}, ResolveReferences(f, index))
	assert.Nil(t, ResolveReferences(nil, index))
}

func TestSignatureHash(t *testing.T) {
	a := &FileNode{Package: "p", Classes: []ClassNode{
		{QualifiedName: "p.A", Signature: "class A;public void run()"},
		{QualifiedName: "p.B", Signature: "class B"},
	}}
	reordered := &FileNode{Package: "p", Classes: []ClassNode{
		{QualifiedName: "p.B", Signature: "class B"},
		{QualifiedName: "p.A", Signature: "class A;public void run()"},
	}}
	changed := &FileNode{Package: "p", Classes: []ClassNode{
		{QualifiedName: "p.A", Signature: "class A;public void run(int n)"},
		{QualifiedName: "p.B", Signature: "class B"},
	}}

	assert.Equal(t, SignatureHash(a), SignatureHash(reordered))
	assert.NotEqual(t, SignatureHash(a), SignatureHash(changed))
	assert.Empty(t, SignatureHash(nil))
}

func TestASTMerge(t *testing.T) {
	base := NewAST()
	base.Files["u1"] = &FileNode{URI: "u1", Package: "old"}
	base.Files["u2"] = &FileNode{URI: "u2"}

	update := NewAST()
	update.Files["u1"] = &FileNode{URI: "u1", Package: "new"}
	update.Files["u3"] = &FileNode{URI: "u3"}

	base.Merge(update, "u2")

	assert.Equal(t, []string{"u1", "u3"}, base.URIs())
	assert.Equal(t, "new", base.File("u1").Package)
	assert.Nil(t, (*AST)(nil).File("u1"))
}

func TestResourceExhaustedError(t *testing.T) {
	cause := errors.New("heap")
	err := error(&ResourceExhaustedError{Reason: "out of memory", Cause: cause})

	var rex *ResourceExhaustedError
	require.True(t, errors.As(err, &rex))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "out of memory")
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "syntax", PhaseSyntax.String())
	assert.Equal(t, "semantic", PhaseSemantic.String())
}
