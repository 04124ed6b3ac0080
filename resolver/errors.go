package resolver

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel failure modes of a resolve call. Branch with errors.Is; the
// returned error is always an *Error carrying the path context.
var (
	// ErrNoSuchPath means the frontier emptied before all segments were
	// consumed.
	ErrNoSuchPath = errors.New("no such path")

	// ErrAmbiguousOwner means the final candidates belong to more than
	// one owner and no wildcard segment sanctioned the fan-out.
	ErrAmbiguousOwner = errors.New("ambiguous owner")

	// ErrUntrustedHop means every surviving candidate at some segment
	// was excluded by a trust decision.
	ErrUntrustedHop = errors.New("untrusted manifest on path")

	// ErrCycle means a bridge chain returned to an owner already
	// visited for the same segment.
	ErrCycle = errors.New("bridge cycle")
)

// Exclusion records a candidate ruled out during resolution. Exclusions
// never abort the walk by themselves; they are reported when the walk
// fails so trust decisions stay auditable.
type Exclusion struct {
	// Segment being resolved when the candidate was dropped.
	Segment string
	// Owner context at that point.
	Owner string
	// Source locates the candidate: a manifest path, a storage type, a
	// bridge description.
	Source string
	Cause  error
}

func (x Exclusion) String() string {
	return fmt.Sprintf("%s (owner %s, segment %s): %v", x.Source, x.Owner, x.Segment, x.Cause)
}

// Error is the failure of a whole resolve call. It names the segment and
// owner context at which resolution stopped and carries the candidates
// excluded along the way.
type Error struct {
	Err error

	// Consumed are the segments successfully resolved before failure.
	Consumed []string
	// Segment is the segment at which resolution stopped, "" when the
	// failure is about the final candidate set.
	Segment string
	// Owner is the owner context at the failing segment.
	Owner string

	Exclusions []Exclusion
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Err.Error())
	if e.Segment != "" {
		fmt.Fprintf(&b, " at segment %q", e.Segment)
	}
	if e.Owner != "" {
		fmt.Fprintf(&b, " (owner %s)", e.Owner)
	}
	if len(e.Consumed) > 0 {
		fmt.Fprintf(&b, ", resolved prefix %s", strings.Join(e.Consumed, ":"))
	}
	for _, x := range e.Exclusions {
		b.WriteString("\n  excluded: ")
		b.WriteString(x.String())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }
