// Package plan implements spec.md §4.4 (C4) steps 4-5: diffing a newly
// evaluated and ordered graph against the manifest of the current
// snapshot, and emitting the ordered action list an apply executes.
package plan

import (
	"sort"

	"statum.dev/statum/internal/fingerprint"
	"statum.dev/statum/internal/graph"
	"statum.dev/statum/internal/snapshot"
)

// BuildDiffKind classifies one build fingerprint's relationship to the
// prior snapshot.
type BuildDiffKind string

const (
	BuildAdded     BuildDiffKind = "added"
	BuildRemoved   BuildDiffKind = "removed"
	BuildUnchanged BuildDiffKind = "unchanged"
)

// BuildDiff is one build fingerprint's diff entry.
type BuildDiff struct {
	Fingerprint fingerprint.Digest
	Kind        BuildDiffKind
}

// BindDiffKind classifies one bind id's relationship to the prior
// snapshot.
type BindDiffKind string

const (
	BindAdded     BindDiffKind = "added"
	BindRemoved   BindDiffKind = "removed"
	BindChanged   BindDiffKind = "changed"
	BindUnchanged BindDiffKind = "unchanged"
)

// BindDiff is one bind id's diff entry. PriorFingerprint is the zero
// digest for Added; Fingerprint is the zero digest for Removed.
type BindDiff struct {
	ID               string
	Kind             BindDiffKind
	Fingerprint      fingerprint.Digest
	PriorFingerprint fingerprint.Digest
}

// Diff is the full comparison of a new plan's graph against the prior
// snapshot's manifest, sorted for stable `diff` CLI output.
type Diff struct {
	Builds []BuildDiff
	Binds  []BindDiff
}

// ActionKind names one step of an apply's action list.
type ActionKind string

const (
	ActionRealizeBuild ActionKind = "realize_build"
	ActionDestroyBind  ActionKind = "destroy_bind"
	ActionCreateBind   ActionKind = "create_bind"
	ActionUpdateBind   ActionKind = "update_bind"
)

// Action is one entry of the ordered action list spec.md §4.4 step 5
// describes.
type Action struct {
	Kind ActionKind

	// Fingerprint is set for ActionRealizeBuild.
	Fingerprint fingerprint.Digest

	// BindID and BindFingerprint are set for bind actions. For
	// ActionDestroyBind, BindFingerprint is the fingerprint being torn
	// down (the prior one, for a changed bind without update).
	BindID          string
	BindFingerprint fingerprint.Digest
}

// Plan is a diff plus the ordered action list derived from it.
type Plan struct {
	Diff    *Diff
	Actions []Action
}

// Build computes the plan for a graph already placed in deterministic
// topological order by graph.Order, against prior (nil if this is the
// first apply). hasUpdate reports, per bind declaration id, whether the
// bind declares an update thunk; binds absent from hasUpdate are treated
// as having none, so a fingerprint change becomes destroy+create.
func Build(orderedNodes []*graph.Node, hasUpdate map[string]bool, prior *snapshot.Manifest) *Plan {
	diff := computeDiff(orderedNodes, prior)
	bindDiffs := indexBindDiffs(diff)
	removedBinds := removedBindSet(diff)

	var actions []Action

	addedBuilds := map[fingerprint.Digest]bool{}
	for _, bd := range diff.Builds {
		if bd.Kind == BuildAdded {
			addedBuilds[bd.Fingerprint] = true
		}
	}
	for _, n := range orderedNodes {
		if n.Kind == graph.Build && addedBuilds[n.Fingerprint] {
			actions = append(actions, Action{Kind: ActionRealizeBuild, Fingerprint: n.Fingerprint})
			addedBuilds[n.Fingerprint] = false // a build node appears once per fingerprint in a well-formed graph
		}
	}

	if prior != nil {
		for i := len(prior.Binds) - 1; i >= 0; i-- {
			rec := prior.Binds[i]
			if removedBinds[rec.ID] {
				actions = append(actions, Action{Kind: ActionDestroyBind, BindID: rec.ID, BindFingerprint: rec.Fingerprint})
			}
		}
	}

	for _, n := range orderedNodes {
		if n.Kind != graph.Bind {
			continue
		}
		bd, ok := bindDiffs[n.DeclID]
		if !ok {
			continue
		}
		switch bd.Kind {
		case BindAdded:
			actions = append(actions, Action{Kind: ActionCreateBind, BindID: n.DeclID, BindFingerprint: n.Fingerprint})
		case BindChanged:
			if hasUpdate[n.DeclID] {
				actions = append(actions, Action{Kind: ActionUpdateBind, BindID: n.DeclID, BindFingerprint: n.Fingerprint})
			} else {
				actions = append(actions, Action{Kind: ActionDestroyBind, BindID: n.DeclID, BindFingerprint: bd.PriorFingerprint})
				actions = append(actions, Action{Kind: ActionCreateBind, BindID: n.DeclID, BindFingerprint: n.Fingerprint})
			}
		}
	}

	return &Plan{Diff: diff, Actions: actions}
}

// DiffManifests compares two already-written snapshots directly, for the
// `diff <a> <b>` CLI verb (spec.md §6) where neither side is a live
// evaluation with a graph to order — unlike Build, which diffs a freshly
// evaluated graph against one prior manifest, this only ever needs the
// two manifests' own records.
func DiffManifests(a, b *snapshot.Manifest) *Diff {
	aBuilds := map[fingerprint.Digest]bool{}
	if a != nil {
		for _, fp := range a.BuildFingerprints() {
			aBuilds[fp] = true
		}
	}
	bBuilds := map[fingerprint.Digest]bool{}
	if b != nil {
		for _, fp := range b.BuildFingerprints() {
			bBuilds[fp] = true
		}
	}
	var builds []BuildDiff
	for fp := range aBuilds {
		kind := BuildRemoved
		if bBuilds[fp] {
			kind = BuildUnchanged
		}
		builds = append(builds, BuildDiff{Fingerprint: fp, Kind: kind})
	}
	for fp := range bBuilds {
		if !aBuilds[fp] {
			builds = append(builds, BuildDiff{Fingerprint: fp, Kind: BuildAdded})
		}
	}

	aBinds := map[string]snapshot.BindRecord{}
	if a != nil {
		for _, rec := range a.Binds {
			aBinds[rec.ID] = rec
		}
	}
	bBinds := map[string]snapshot.BindRecord{}
	if b != nil {
		for _, rec := range b.Binds {
			bBinds[rec.ID] = rec
		}
	}
	var binds []BindDiff
	for id, aRec := range aBinds {
		bRec, ok := bBinds[id]
		switch {
		case !ok:
			binds = append(binds, BindDiff{ID: id, Kind: BindRemoved, PriorFingerprint: aRec.Fingerprint})
		case aRec.Fingerprint == bRec.Fingerprint:
			binds = append(binds, BindDiff{ID: id, Kind: BindUnchanged, Fingerprint: bRec.Fingerprint, PriorFingerprint: aRec.Fingerprint})
		default:
			binds = append(binds, BindDiff{ID: id, Kind: BindChanged, Fingerprint: bRec.Fingerprint, PriorFingerprint: aRec.Fingerprint})
		}
	}
	for id, bRec := range bBinds {
		if _, ok := aBinds[id]; !ok {
			binds = append(binds, BindDiff{ID: id, Kind: BindAdded, Fingerprint: bRec.Fingerprint})
		}
	}

	sort.Slice(builds, func(i, j int) bool { return builds[i].Fingerprint.String() < builds[j].Fingerprint.String() })
	sort.Slice(binds, func(i, j int) bool { return binds[i].ID < binds[j].ID })

	return &Diff{Builds: builds, Binds: binds}
}

func computeDiff(orderedNodes []*graph.Node, prior *snapshot.Manifest) *Diff {
	priorBuilds := map[fingerprint.Digest]bool{}
	priorBinds := map[string]snapshot.BindRecord{}
	if prior != nil {
		for _, fp := range prior.BuildFingerprints() {
			priorBuilds[fp] = true
		}
		for _, b := range prior.Binds {
			priorBinds[b.ID] = b
		}
	}

	newBuilds := map[fingerprint.Digest]bool{}
	newBinds := map[string]bool{}
	var builds []BuildDiff
	var binds []BindDiff

	for _, n := range orderedNodes {
		switch n.Kind {
		case graph.Build:
			if newBuilds[n.Fingerprint] {
				continue
			}
			newBuilds[n.Fingerprint] = true
			kind := BuildAdded
			if priorBuilds[n.Fingerprint] {
				kind = BuildUnchanged
			}
			builds = append(builds, BuildDiff{Fingerprint: n.Fingerprint, Kind: kind})
		case graph.Bind:
			newBinds[n.DeclID] = true
			priorRec, existed := priorBinds[n.DeclID]
			switch {
			case !existed:
				binds = append(binds, BindDiff{ID: n.DeclID, Kind: BindAdded, Fingerprint: n.Fingerprint})
			case priorRec.Fingerprint == n.Fingerprint:
				binds = append(binds, BindDiff{ID: n.DeclID, Kind: BindUnchanged, Fingerprint: n.Fingerprint, PriorFingerprint: priorRec.Fingerprint})
			default:
				binds = append(binds, BindDiff{ID: n.DeclID, Kind: BindChanged, Fingerprint: n.Fingerprint, PriorFingerprint: priorRec.Fingerprint})
			}
		}
	}

	for fp := range priorBuilds {
		if !newBuilds[fp] {
			builds = append(builds, BuildDiff{Fingerprint: fp, Kind: BuildRemoved})
		}
	}
	for id, rec := range priorBinds {
		if !newBinds[id] {
			binds = append(binds, BindDiff{ID: id, Kind: BindRemoved, PriorFingerprint: rec.Fingerprint})
		}
	}

	sort.Slice(builds, func(i, j int) bool { return builds[i].Fingerprint.String() < builds[j].Fingerprint.String() })
	sort.Slice(binds, func(i, j int) bool { return binds[i].ID < binds[j].ID })

	return &Diff{Builds: builds, Binds: binds}
}

func indexBindDiffs(d *Diff) map[string]BindDiff {
	out := make(map[string]BindDiff, len(d.Binds))
	for _, bd := range d.Binds {
		out[bd.ID] = bd
	}
	return out
}

func removedBindSet(d *Diff) map[string]bool {
	out := map[string]bool{}
	for _, bd := range d.Binds {
		if bd.Kind == BindRemoved {
			out[bd.ID] = true
		}
	}
	return out
}
