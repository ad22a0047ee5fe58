// Package conflict implements the conflict taxonomy and pluggable
// resolution strategy described in spec §4.1's conflict model: a conflict
// record, a kind enum, a resolution-strategy enum, a resolver trait, and a
// default resolver. Grounded on the teacher's plugin-priority pattern used
// for hook resolution in internal/events, adapted from hooks to conflicts.
package conflict

import (
	"fmt"

	"github.com/marcus/synckit/entity"
)

// Kind classifies why local and remote data diverged.
type Kind string

const (
	BothModified               Kind = "both_modified"
	LocalDeletedRemoteModified Kind = "local_deleted_remote_modified"
	LocalModifiedRemoteDeleted Kind = "local_modified_remote_deleted"
	BothDeleted                Kind = "both_deleted"
	VersionMismatch            Kind = "version_mismatch"
	DataCorruption             Kind = "data_corruption"
)

// Strategy names how a resolver chooses a winner.
type Strategy string

const (
	UseLocal        Strategy = "use_local"
	UseRemote       Strategy = "use_remote"
	UseLatest       Strategy = "use_latest"
	UseHighestVersion Strategy = "use_highest_version"
	Merge           Strategy = "merge"
	Custom          Strategy = "custom"
	Skip            Strategy = "skip"
)

// ParseStrategy parses a case-insensitive snake_case strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(lower(s)) {
	case UseLocal, UseRemote, UseLatest, UseHighestVersion, Merge, Custom, Skip:
		return Strategy(lower(s)), nil
	default:
		return "", fmt.Errorf("conflict: unrecognized strategy %q", s)
	}
}

// ParseKind parses a case-insensitive snake_case conflict kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(lower(s)) {
	case BothModified, LocalDeletedRemoteModified, LocalModifiedRemoteDeleted, BothDeleted, VersionMismatch, DataCorruption:
		return Kind(lower(s)), nil
	default:
		return "", fmt.Errorf("conflict: unrecognized kind %q", s)
	}
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Conflict is the persisted record of a detected divergence (spec §3's
// sync_conflicts table, in memory form).
type Conflict struct {
	ID                 string
	EntityID           string
	EntityType         string
	Local               entity.SyncEntity
	Remote              entity.SyncEntity
	Kind                Kind
	DetectedAt          int64
	IsResolved          bool
	ResolvedAt          *int64
	ResolutionStrategy  *Strategy
}

// Resolver decides how to reconcile a Conflict. Resolvers are consulted in
// descending Priority order; the first whose CanResolve(kind) returns true
// handles the conflict.
type Resolver interface {
	Name() string
	Priority() int
	CanResolve(kind Kind) bool
	// Resolve returns the winning entity and true if resolved, or
	// (nil, false) to defer to the next resolver (or manual resolution if
	// none remain).
	Resolve(c Conflict) (entity.SyncEntity, bool)
}

// DefaultResolver implements UseLatest: the entity with the greater
// UpdatedAt wins, ties broken by higher Version. It refuses DataCorruption
// conflicts, per the source's behavior of never routing those to a
// resolver (spec's Open Question (c)).
type DefaultResolver struct{}

func (DefaultResolver) Name() string   { return "default" }
func (DefaultResolver) Priority() int  { return 0 }

func (DefaultResolver) CanResolve(kind Kind) bool {
	return kind != DataCorruption
}

func (DefaultResolver) Resolve(c Conflict) (entity.SyncEntity, bool) {
	if c.Kind == DataCorruption {
		return nil, false
	}
	if c.Local == nil {
		return c.Remote, c.Remote != nil
	}
	if c.Remote == nil {
		return c.Local, true
	}

	if c.Remote.UpdatedAt() > c.Local.UpdatedAt() {
		return c.Remote, true
	}
	if c.Local.UpdatedAt() > c.Remote.UpdatedAt() {
		return c.Local, true
	}
	if c.Remote.Version() > c.Local.Version() {
		return c.Remote, true
	}
	return c.Local, true
}

// StrategyResolver adapts one of the named Strategy values into a Resolver,
// for callers that want a fixed strategy rather than the UseLatest default.
// Merge falls back to UseLatest (no merge function is part of the core);
// Custom and Skip always defer, matching the spec's "returns nothing from
// the default resolver" description of those two strategies.
type StrategyResolver struct {
	ResolverName string
	ResolverPriority int
	Strategy         Strategy
	Kinds            []Kind // nil means every kind except DataCorruption
}

func (r StrategyResolver) Name() string  { return r.ResolverName }
func (r StrategyResolver) Priority() int { return r.ResolverPriority }

func (r StrategyResolver) CanResolve(kind Kind) bool {
	if kind == DataCorruption {
		return false
	}
	if r.Kinds == nil {
		return true
	}
	for _, k := range r.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (r StrategyResolver) Resolve(c Conflict) (entity.SyncEntity, bool) {
	switch r.Strategy {
	case UseLocal:
		return c.Local, c.Local != nil
	case UseRemote:
		return c.Remote, c.Remote != nil
	case UseLatest, Merge:
		return DefaultResolver{}.Resolve(c)
	case UseHighestVersion:
		if c.Local == nil {
			return c.Remote, c.Remote != nil
		}
		if c.Remote == nil {
			return c.Local, true
		}
		if c.Remote.Version() > c.Local.Version() {
			return c.Remote, true
		}
		return c.Local, true
	default: // Custom, Skip
		return nil, false
	}
}

// Resolve iterates resolvers in descending priority, returning the first
// successful resolution. If none resolves, ok is false and the caller must
// persist the conflict for manual resolution.
func Resolve(c Conflict, resolvers []Resolver) (winner entity.SyncEntity, resolverName string, ok bool) {
	ordered := sortedByPriorityDesc(resolvers)
	for _, r := range ordered {
		if !r.CanResolve(c.Kind) {
			continue
		}
		if e, resolved := r.Resolve(c); resolved {
			return e, r.Name(), true
		}
	}
	return nil, "", false
}

func sortedByPriorityDesc(resolvers []Resolver) []Resolver {
	out := make([]Resolver, len(resolvers))
	copy(out, resolvers)
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && out[j-1].Priority() < out[j].Priority() {
			out[j-1], out[j] = out[j], out[j-1]
			j--
		}
	}
	return out
}

// HasConflict reports whether local and remote diverge in a way that
// requires resolution. True iff (a) local has synced before and both sides
// advanced past that sync point, or (b) the two versions differ outright
// — version mismatch alone is a conflict regardless of which side is
// larger, even with no timestamp divergence (spec invariant 6).
func HasConflict(local, remote entity.SyncEntity) bool {
	if local == nil || remote == nil {
		return false
	}
	if local.Version() != remote.Version() {
		return true
	}
	if sa := local.SyncedAt(); sa != nil && local.UpdatedAt() > *sa && remote.UpdatedAt() > *sa {
		return true
	}
	return false
}

// ClassifyKind derives the taxonomy kind for a detected conflict from the
// deletion state of both sides.
func ClassifyKind(local, remote entity.SyncEntity) Kind {
	switch {
	case local.IsDeleted() && remote.IsDeleted():
		return BothDeleted
	case local.IsDeleted() && !remote.IsDeleted():
		return LocalDeletedRemoteModified
	case !local.IsDeleted() && remote.IsDeleted():
		return LocalModifiedRemoteDeleted
	default:
		return BothModified
	}
}
