package scope

import "fmt"

// ClasspathState is the classpath concern of a scope.
type ClasspathState int

const (
	// ClasspathUnresolved means no resolution has succeeded or failed yet.
	ClasspathUnresolved ClasspathState = iota
	// ClasspathResolved means the scope holds an accepted classpath.
	ClasspathResolved
	// ClasspathDegraded means resolution failed; the scope is served syntax-only.
	ClasspathDegraded
)

func (s ClasspathState) String() string {
	switch s {
	case ClasspathUnresolved:
		return "unresolved"
	case ClasspathResolved:
		return "resolved"
	case ClasspathDegraded:
		return "degraded"
	default:
		return fmt.Sprintf("classpath(%d)", int(s))
	}
}

// CompilationState is the compilation concern of a scope.
type CompilationState int

const (
	NotCompiled CompilationState = iota
	Compiled
	// CompilationFailed is terminal for the current inputs: the scope counts
	// as compiled so it is not retried until something changes.
	CompilationFailed
)

func (s CompilationState) String() string {
	switch s {
	case NotCompiled:
		return "not-compiled"
	case Compiled:
		return "compiled"
	case CompilationFailed:
		return "failed"
	default:
		return fmt.Sprintf("compilation(%d)", int(s))
	}
}

// ResolutionState tracks one root's classpath resolution within a registration epoch.
type ResolutionState int

const (
	ResolutionNotStarted ResolutionState = iota
	ResolutionInFlight
	ResolutionResolved
	ResolutionFailed
)

func (s ResolutionState) String() string {
	switch s {
	case ResolutionNotStarted:
		return "NOT_STARTED"
	case ResolutionInFlight:
		return "IN_FLIGHT"
	case ResolutionResolved:
		return "RESOLVED"
	case ResolutionFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("resolution(%d)", int(s))
	}
}

var classpathTransitions = map[ClasspathState]map[ClasspathState]bool{
	ClasspathUnresolved: {ClasspathResolved: true, ClasspathDegraded: true},
	ClasspathResolved:   {ClasspathResolved: true, ClasspathUnresolved: true},
	ClasspathDegraded:   {ClasspathResolved: true, ClasspathDegraded: true, ClasspathUnresolved: true},
}

var compilationTransitions = map[CompilationState]map[CompilationState]bool{
	NotCompiled:       {Compiled: true, CompilationFailed: true},
	Compiled:          {Compiled: true, CompilationFailed: true, NotCompiled: true},
	CompilationFailed: {NotCompiled: true},
}

var resolutionTransitions = map[ResolutionState]map[ResolutionState]bool{
	ResolutionNotStarted: {ResolutionInFlight: true},
	ResolutionInFlight:   {ResolutionResolved: true, ResolutionFailed: true},
	ResolutionResolved:   {},
	ResolutionFailed:     {},
}

// CanTransitionClasspath reports whether from -> to is legal.
func CanTransitionClasspath(from, to ClasspathState) bool {
	return classpathTransitions[from][to]
}

// CanTransitionCompilation reports whether from -> to is legal.
func CanTransitionCompilation(from, to CompilationState) bool {
	return compilationTransitions[from][to]
}

// CanTransitionResolution reports whether from -> to is legal.
func CanTransitionResolution(from, to ResolutionState) bool {
	return resolutionTransitions[from][to]
}

// TransitionError reports an illegal state change.
type TransitionError struct {
	Concern string
	From    string
	To      string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal %s transition %s -> %s", e.Concern, e.From, e.To)
}
