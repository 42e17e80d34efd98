// Package snapshot implements the immutable manifest store, the snapshot
// index, and the current pointer described by spec.md §3 and §4.7 (C7).
package snapshot

import (
	"encoding/json"
	"sort"

	"statum.dev/statum/internal/fingerprint"
)

// BuildRecord is one realized build's entry in a manifest.
type BuildRecord struct {
	Fingerprint fingerprint.Digest `json:"fingerprint"`
}

// BindRecord is one bind's entry in a manifest: its declared id, its
// fingerprint, the outputs its last successful create/update produced, and
// a digest of the resolved inputs it was applied with.
type BindRecord struct {
	ID          string             `json:"id"`
	Fingerprint fingerprint.Digest `json:"fingerprint"`
	Outputs     map[string]string  `json:"outputs"`
	InputDigest fingerprint.Digest `json:"input_digest"`

	// Provider names the bind provider package this record's bind was
	// created through, so a later apply can reconstruct its lifecycle
	// thunks to destroy it even if the current declaration no longer
	// registers that bind id at all.
	Provider string `json:"provider,omitempty"`
}

// Manifest enumerates every build fingerprint realized and every bind
// applied in one snapshot. Manifests are append-only in spirit: once
// written to the store they are never mutated, only superseded by a new
// snapshot's manifest.
type Manifest struct {
	Builds []BuildRecord `json:"builds"`
	Binds  []BindRecord  `json:"binds"`

	// Sources lists the declared content hashes of RemoteSource/GitRef
	// edges reachable from this snapshot's graph, sanitized the same way
	// store.SourceDir names src/<hash>/ — the set of source objects GC
	// treats as rooted by this snapshot.
	Sources []string `json:"sources,omitempty"`
}

// BuildFingerprints returns the manifest's build fingerprints.
func (m *Manifest) BuildFingerprints() []fingerprint.Digest {
	out := make([]fingerprint.Digest, len(m.Builds))
	for i, b := range m.Builds {
		out[i] = b.Fingerprint
	}
	return out
}

// BindByID returns the bind record for id, if present.
func (m *Manifest) BindByID(id string) (BindRecord, bool) {
	for _, b := range m.Binds {
		if b.ID == id {
			return b, true
		}
	}
	return BindRecord{}, false
}

// Digest computes the manifest's own content-address: the id a snapshot is
// named by, per spec.md §3 ("A snapshot id is a digest of its manifest
// contents").
func (m *Manifest) Digest() fingerprint.Digest {
	builds := make([]BuildRecord, len(m.Builds))
	copy(builds, m.Builds)
	sort.Slice(builds, func(i, j int) bool {
		return builds[i].Fingerprint.String() < builds[j].Fingerprint.String()
	})
	binds := make([]BindRecord, len(m.Binds))
	copy(binds, m.Binds)
	sort.Slice(binds, func(i, j int) bool { return binds[i].ID < binds[j].ID })

	sources := make([]string, len(m.Sources))
	copy(sources, m.Sources)
	sort.Strings(sources)

	b := fingerprint.New()
	b.BeginSequence(len(builds))
	for _, rec := range builds {
		b.Digest(rec.Fingerprint)
	}
	b.BeginSequence(len(sources))
	for _, s := range sources {
		b.String(s)
	}
	b.BeginSequence(len(binds))
	for _, rec := range binds {
		b.String(rec.ID).Digest(rec.Fingerprint).Digest(rec.InputDigest).String(rec.Provider)
		outKeys := make([]string, 0, len(rec.Outputs))
		for k := range rec.Outputs {
			outKeys = append(outKeys, k)
		}
		sort.Strings(outKeys)
		b.BeginMapping(len(outKeys))
		for _, k := range outKeys {
			b.String(k).String(rec.Outputs[k])
		}
	}
	return b.Sum()
}

// marshalIndent encodes with the stdlib encoding/json codec this store
// uses throughout, matching the plain encoding/json usage already
// established by the manager's state store — no third-party serializer
// swap is warranted for a format this simple and this load-bearing for
// on-disk compatibility.
func marshalIndent(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
