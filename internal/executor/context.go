package executor

import (
	"context"
	"runtime/pprof"
)

// ProjectLabel is the pprof goroutine label carrying the project root.
const ProjectLabel = "project"

type projectKey struct{}

// Task is a unit of work run on a pool. The context carries the submitter's
// project and is cancelled when the pools shut down.
type Task func(ctx context.Context)

// WithProject returns ctx tagged with a project root. An empty root clears it.
func WithProject(ctx context.Context, root string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, projectKey{}, root)
}

// ProjectFromContext returns the project root attached to ctx, or "".
func ProjectFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	root, _ := ctx.Value(projectKey{}).(string)
	return root
}

// Wrap snapshots the project carried by ctx and returns a task that installs
// it into the worker's context for the duration of task. The goroutine's
// pprof labels are set while the body runs and restored afterwards.
func Wrap(ctx context.Context, task Task) Task {
	root := ProjectFromContext(ctx)
	return func(workerCtx context.Context) {
		if workerCtx == nil {
			workerCtx = context.Background()
		}
		runCtx := WithProject(workerCtx, root)
		if root == "" {
			task(runCtx)
			return
		}
		pprof.Do(runCtx, pprof.Labels(ProjectLabel, root), func(labelled context.Context) {
			task(labelled)
		})
	}
}
