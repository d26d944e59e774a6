//go:build cgo

package compiler

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"
)

const greeterSrc = `package com.example;

import com.example.util.Strings;
import java.util.List;

public class Greeter {
    private String secret = "x";
    public String prefix = "Hello";

    public String greet(String name) {
        return Strings.join(prefix, name);
    }

    private void helper() {}

    static class Inner {
        List<String> names;
    }
}
`

const stringsSrc = `package com.example.util;

public class Strings {
    public static String join(String a, String b) {
        return a + " " + b;
    }
}
`

func compileOne(t *testing.T, unit Unit) (*AST, []Diagnostic) {
	t.Helper()
	ast, diags, err := NewTreeSitterBackend().Compile(context.Background(), unit)
	require.NoError(t, err)
	return ast, diags
}

func TestTreeSitterExtractsDeclarations(t *testing.T) {
	ast, diags := compileOne(t, Unit{
		Sources: []Source{
			{URI: "file:///ws/src/com/example/Greeter.groovy", Text: greeterSrc},
			{URI: "file:///ws/src/com/example/util/Strings.groovy", Text: stringsSrc},
		},
		Phase: PhaseSemantic,
	})
	assert.Empty(t, diags)

	greeter := ast.File("file:///ws/src/com/example/Greeter.groovy")
	require.NotNil(t, greeter)
	assert.Equal(t, "com.example", greeter.Package)
	assert.Equal(t, []string{"com.example.util.Strings", "java.util.List"}, greeter.Imports)

	var names []string
	for _, c := range greeter.Classes {
		names = append(names, c.QualifiedName)
	}
	assert.ElementsMatch(t, []string{"com.example.Greeter", "com.example.Greeter.Inner"}, names)
	assert.Contains(t, greeter.References, "Strings")

	deps := ResolveReferences(greeter, ast.ClassIndex())
	assert.Equal(t, []string{"file:///ws/src/com/example/util/Strings.groovy"}, deps)
}

func TestTreeSitterSignatureIgnoresBodies(t *testing.T) {
	parse := func(src string) string {
		ast, _ := compileOne(t, Unit{Sources: []Source{{URI: "file:///ws/G.groovy", Text: src}}})
		return SignatureHash(ast.File("file:///ws/G.groovy"))
	}

	base := parse(greeterSrc)
	bodyChanged := parse(strings.Replace(greeterSrc, `return Strings.join(prefix, name);`, `return prefix + name;`, 1))
	privateChanged := parse(strings.Replace(greeterSrc, `private void helper() {}`, `private int helper(int x) { return x; }`, 1))
	initChanged := parse(strings.Replace(greeterSrc, `"Hello"`, `"Hi"`, 1))
	apiChanged := parse(strings.Replace(greeterSrc, `public String greet(String name)`, `public String greet(String name, int times)`, 1))

	assert.Equal(t, base, bodyChanged)
	assert.Equal(t, base, privateChanged)
	assert.Equal(t, base, initChanged)
	assert.NotEqual(t, base, apiChanged)
}

func TestTreeSitterSyntaxErrors(t *testing.T) {
	src := "package p;\n\npublic class Broken {\n    void m( {\n    }\n"
	_, diags := compileOne(t, Unit{Sources: []Source{{URI: "file:///ws/Broken.groovy", Text: src}}})

	require.NotEmpty(t, diags)
	for _, d := range diags {
		assert.Equal(t, "file:///ws/Broken.groovy", d.URI)
		assert.Equal(t, protocol.DiagnosticSeverityError, d.Severity)
		assert.True(t, strings.HasPrefix(d.Message, "Syntax error"))
	}
}

func TestTreeSitterUnresolvedImport(t *testing.T) {
	src := strings.Replace(greeterSrc, "import com.example.util.Strings;", "import com.example.util.Missing;", 1)
	_, diags := compileOne(t, Unit{
		Sources: []Source{
			{URI: "file:///ws/Greeter.groovy", Text: src},
			{URI: "file:///ws/Strings.groovy", Text: stringsSrc},
		},
		Phase: PhaseSemantic,
	})

	require.Len(t, diags, 1)
	assert.Equal(t, "unable to resolve class com.example.util.Missing", diags[0].Message)
	assert.Equal(t, uint32(2), diags[0].Range.Start.Line)

	// syntax phase does not resolve imports
	_, syntaxDiags := compileOne(t, Unit{
		Sources: []Source{{URI: "file:///ws/Greeter.groovy", Text: src}, {URI: "file:///ws/Strings.groovy", Text: stringsSrc}},
		Phase:   PhaseSyntax,
	})
	assert.Empty(t, syntaxDiags)
}

func TestTreeSitterContextClassesResolve(t *testing.T) {
	_, diags := compileOne(t, Unit{
		Sources: []Source{{URI: "file:///ws/Greeter.groovy", Text: greeterSrc}},
		Phase:   PhaseSemantic,
		Context: map[string]string{"com.example.util.Strings": "file:///ws/Strings.groovy"},
	})
	assert.Empty(t, diags)
}

func TestTreeSitterRecordVersionGate(t *testing.T) {
	src := "package p;\n\npublic record Point(int x, int y) {}\n"

	_, oldDiags := compileOne(t, Unit{Sources: []Source{{URI: "file:///ws/Point.groovy", Text: src}}, LanguageVersion: "3.0.9"})
	require.Len(t, oldDiags, 1)
	assert.Equal(t, protocol.DiagnosticSeverityWarning, oldDiags[0].Severity)
	assert.Contains(t, oldDiags[0].Message, "3.0.9")

	_, newDiags := compileOne(t, Unit{Sources: []Source{{URI: "file:///ws/Point.groovy", Text: src}}, LanguageVersion: "4.0.15"})
	assert.Empty(t, newDiags)
}

func TestTreeSitterSourceBudget(t *testing.T) {
	b := NewTreeSitterBackend()
	b.MaxSourceBytes = 10

	_, _, err := b.Compile(context.Background(), Unit{Sources: []Source{{URI: "file:///ws/G.groovy", Text: greeterSrc}}})

	var rex *ResourceExhaustedError
	require.True(t, errors.As(err, &rex))
}

func TestTreeSitterCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := NewTreeSitterBackend().Compile(ctx, Unit{Sources: []Source{{URI: "file:///ws/G.groovy", Text: greeterSrc}}})
	assert.ErrorIs(t, err, context.Canceled)
}
