//go:build !cgo

package compiler

import (
	"context"
	"fmt"
)

// TreeSitterBackend is the reference backend. Without CGO it only records
// one empty file node per source.
type TreeSitterBackend struct {
	MaxSourceBytes int
	Parallelism    int
}

// NewTreeSitterBackend creates the reference backend.
func NewTreeSitterBackend() *TreeSitterBackend {
	return &TreeSitterBackend{}
}

// IsAvailable returns whether tree-sitter parsing is compiled in.
func IsAvailable() bool {
	return false
}

// Compile returns an AST with no declarations when CGO is not available.
func (b *TreeSitterBackend) Compile(ctx context.Context, unit Unit) (*AST, []Diagnostic, error) {
	total := 0
	for _, s := range unit.Sources {
		total += len(s.Text)
	}
	if b.MaxSourceBytes > 0 && total > b.MaxSourceBytes {
		return nil, nil, &ResourceExhaustedError{
			Reason: fmt.Sprintf("unit of %d bytes exceeds budget of %d bytes", total, b.MaxSourceBytes),
		}
	}
	ast := NewAST()
	for _, s := range unit.Sources {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		ast.Files[s.URI] = &FileNode{URI: s.URI}
	}
	return ast, nil, nil
}
