package classpath

import (
	"context"
	"fmt"
	"runtime/debug"

	glserrors "groovyls/internal/errors"
	"groovyls/internal/executor"
	"groovyls/internal/metrics"
)

// scheduleBackfill queues resolution of the unresolved siblings of root that
// share its build. The scheduling pool only claims them; the batch importer
// call runs on the import pool.
func (c *Coordinator) scheduleBackfill(ctx context.Context, imp ProjectImporter, root string) {
	if !c.opts.BackfillSiblingProjects {
		return
	}
	batch, ok := imp.(BatchImporter)
	if !ok || !batch.SupportsSiblingBatching() {
		return
	}
	buildRoot := batch.BuildRoot(root)
	err := c.pools.SubmitScheduling(ctx, func(ctx context.Context) {
		c.backfill(ctx, batch, root, buildRoot)
	})
	if err != nil {
		c.logger.DebugContext(ctx, "Sibling backfill not scheduled", "error", err.Error())
	}
}

func (c *Coordinator) siblings(batch BatchImporter, origin, buildRoot string) []string {
	var out []string
	for _, s := range c.manager.Scopes() {
		r := s.Root()
		if r == origin || s.ClasspathResolved() {
			continue
		}
		if c.importerFor(r) != ProjectImporter(batch) || batch.BuildRoot(r) != buildRoot {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (c *Coordinator) backfill(ctx context.Context, batch BatchImporter, origin, buildRoot string) {
	var claimed []*attempt
	for _, r := range c.siblings(batch, origin, buildRoot) {
		a, _ := c.claim(r)
		if a == nil {
			continue
		}
		actx := executor.WithProject(ctx, r)
		if cached, ok := c.fromCache(actx, batch, r); ok {
			metrics.Resolution(metrics.OutcomeCached)
			c.finishResolved(actx, a, cached.Entries, cached.LanguageVersion)
			continue
		}
		claimed = append(claimed, a)
	}
	if len(claimed) == 0 {
		return
	}

	c.logger.InfoContext(ctx, "Backfilling sibling projects", "build", buildRoot, "count", len(claimed))
	fut, err := c.pools.Import().SubmitFuture(ctx, func(ctx context.Context) error {
		return c.resolveBatch(ctx, batch, claimed)
	})
	if err != nil {
		for _, a := range claimed {
			c.finishFailed(executor.WithProject(ctx, a.root), a, err)
		}
		return
	}
	c.watchAbandon(ctx, fut, claimed...)
}

// resolveBatch resolves every claimed root with one importer invocation.
func (c *Coordinator) resolveBatch(ctx context.Context, batch BatchImporter, claimed []*attempt) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.ErrorContext(ctx, "Batch resolution panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			err = glserrors.NewGlsError(glserrors.InternalError, fmt.Sprintf("batch resolution panicked: %v", r), nil)
			for _, a := range claimed {
				c.finishFailed(executor.WithProject(ctx, a.root), a, err)
			}
		}
	}()

	roots := make([]string, len(claimed))
	for i, a := range claimed {
		roots[i] = a.root
	}

	callCtx, cancel := c.importContext(ctx)
	defer cancel()
	metrics.ImporterInvoked(batch.Name())
	results, err := batch.ResolveClasspaths(callCtx, roots)
	if err != nil {
		metrics.Resolution(metrics.OutcomeFailed)
		err = glserrors.NewGlsError(glserrors.ResolutionFailed, batch.Name()+" batch resolution failed", err)
		for _, a := range claimed {
			c.finishFailed(executor.WithProject(ctx, a.root), a, err)
		}
		return err
	}

	for _, a := range claimed {
		actx := executor.WithProject(ctx, a.root)
		entries, ok := results[a.root]
		if !ok {
			metrics.Resolution(metrics.OutcomeFailed)
			c.finishFailed(actx, a, glserrors.NewGlsError(glserrors.ResolutionFailed,
				batch.Name()+" returned no classpath for "+a.root, nil))
			continue
		}
		_ = c.accept(actx, batch, a, entries)
	}
	return nil
}
