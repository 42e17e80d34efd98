// Package edge defines input edges: the values a build or bind node can
// depend on, as described by spec.md's data model.
package edge

import (
	"fmt"
	"os"
	"sort"

	"statum.dev/statum/internal/fingerprint"
)

// Kind distinguishes the five shapes an input edge can take.
type Kind int

const (
	// Literal is a plain scalar or mapping value, captured at registration.
	Literal Kind = iota
	// Path is a reference to file contents on disk, digested eagerly.
	Path
	// BuildRef is a reference to an upstream build's fingerprint.
	BuildRef
	// RemoteSource is a URL plus a declared content hash and format.
	RemoteSource
	// GitRef is a repo URL plus a resolved commit.
	GitRef
)

func (k Kind) String() string {
	switch k {
	case Literal:
		return "literal"
	case Path:
		return "path"
	case BuildRef:
		return "build"
	case RemoteSource:
		return "remote_source"
	case GitRef:
		return "git"
	default:
		return "unknown"
	}
}

// Literal values are restricted to the canonical scalar/mapping shapes the
// fingerprinting rules understand: strings, ints, bools, byte blobs, nested
// ordered mappings and sequences built from the same.
type Value interface {
	digest() fingerprint.Digest
}

type StringValue string

func (v StringValue) digest() fingerprint.Digest { return fingerprint.OfString(string(v)) }

type IntValue int64

func (v IntValue) digest() fingerprint.Digest { return fingerprint.New().Int(int64(v)).Sum() }

type BoolValue bool

func (v BoolValue) digest() fingerprint.Digest { return fingerprint.New().Bool(bool(v)).Sum() }

type BytesValue []byte

func (v BytesValue) digest() fingerprint.Digest { return fingerprint.OfBytes([]byte(v)) }

// MappingValue is an ordered-by-key mapping of nested literal values.
type MappingValue map[string]Value

func (v MappingValue) digest() fingerprint.Digest {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b := fingerprint.New().BeginMapping(len(keys))
	for _, k := range keys {
		b.String(k).Digest(v[k].digest())
	}
	return b.Sum()
}

// SequenceValue is an ordered sequence of nested literal values.
type SequenceValue []Value

func (v SequenceValue) digest() fingerprint.Digest {
	b := fingerprint.New().BeginSequence(len(v))
	for _, e := range v {
		b.Digest(e.digest())
	}
	return b.Sum()
}

// Edge is one resolved input edge, as it appears in a node's ordered
// inputs mapping.
type Edge struct {
	Kind Kind

	// Literal holds the value when Kind == Literal.
	Literal Value

	// PathValue holds the filesystem path when Kind == Path; its digest is
	// computed from the file's contents at resolution time.
	PathValue string

	// UpstreamFingerprint holds the upstream build's fingerprint when
	// Kind == BuildRef.
	UpstreamFingerprint fingerprint.Digest

	// URL and ContentHash/Format describe a RemoteSource edge.
	URL         string
	ContentHash string
	Format      string

	// GitURL and GitCommit describe a GitRef edge; GitCommit must already
	// be a resolved commit, not a branch or tag.
	GitURL    string
	GitCommit string
}

// OfLiteral constructs a Literal-kind edge.
func OfLiteral(v Value) Edge { return Edge{Kind: Literal, Literal: v} }

// OfPath constructs a Path-kind edge.
func OfPath(path string) Edge { return Edge{Kind: Path, PathValue: path} }

// OfBuild constructs a BuildRef-kind edge from an upstream fingerprint.
func OfBuild(fp fingerprint.Digest) Edge { return Edge{Kind: BuildRef, UpstreamFingerprint: fp} }

// OfRemoteSource constructs a RemoteSource-kind edge.
func OfRemoteSource(url, contentHash, format string) Edge {
	return Edge{Kind: RemoteSource, URL: url, ContentHash: contentHash, Format: format}
}

// OfGit constructs a GitRef-kind edge. commit must already be resolved.
func OfGit(repoURL, commit string) Edge {
	return Edge{Kind: GitRef, GitURL: repoURL, GitCommit: commit}
}

// Digest computes the edge's contribution to a node's fingerprint: the
// upstream fingerprint for build refs, or a digest of the canonical form
// for every other kind.
func (e Edge) Digest() (fingerprint.Digest, error) {
	switch e.Kind {
	case Literal:
		if e.Literal == nil {
			return fingerprint.Digest{}, fmt.Errorf("edge: literal edge has no value")
		}
		return e.Literal.digest(), nil
	case Path:
		data, err := os.ReadFile(e.PathValue)
		if err != nil {
			return fingerprint.Digest{}, fmt.Errorf("edge: read path %q: %w", e.PathValue, err)
		}
		return fingerprint.OfBytes(data), nil
	case BuildRef:
		return e.UpstreamFingerprint, nil
	case RemoteSource:
		return fingerprint.New().
			String(e.URL).
			String(e.ContentHash).
			String(e.Format).
			Sum(), nil
	case GitRef:
		return fingerprint.New().String(e.GitURL).String(e.GitCommit).Sum(), nil
	default:
		return fingerprint.Digest{}, fmt.Errorf("edge: unknown kind %v", e.Kind)
	}
}

// Inputs is an ordered-by-declaration mapping of input name to edge, as
// carried by both build and bind nodes. Fingerprinting sorts it by name;
// evaluation order elsewhere is preserved via Names.
type Inputs struct {
	names map[string]Edge
	order []string
}

// NewInputs builds an Inputs set, recording declaration order for
// diagnostics while fingerprinting always re-sorts by name.
func NewInputs() *Inputs {
	return &Inputs{names: make(map[string]Edge)}
}

// Set adds or replaces the edge bound to name, recording first-seen order.
func (in *Inputs) Set(name string, e Edge) {
	if _, exists := in.names[name]; !exists {
		in.order = append(in.order, name)
	}
	in.names[name] = e
}

// Get returns the edge bound to name.
func (in *Inputs) Get(name string) (Edge, bool) {
	e, ok := in.names[name]
	return e, ok
}

// Names returns input names in declaration order.
func (in *Inputs) Names() []string {
	out := make([]string, len(in.order))
	copy(out, in.order)
	return out
}

// Len reports the number of declared inputs.
func (in *Inputs) Len() int { return len(in.names) }

// Digest computes the sorted-by-name mapping digest required by spec.md's
// fingerprinting rules.
func (in *Inputs) Digest() (fingerprint.Digest, error) {
	entries := make(map[string]fingerprint.Digest, len(in.names))
	for name, e := range in.names {
		d, err := e.Digest()
		if err != nil {
			return fingerprint.Digest{}, fmt.Errorf("edge: input %q: %w", name, err)
		}
		entries[name] = d
	}
	return fingerprint.Mapping(entries), nil
}
