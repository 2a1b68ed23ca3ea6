// Package types holds the lattice data model: claims, component
// specifications, links, configuration entries, and the host-local
// running-instance bookkeeping described in the lattice control plane.
package types

import (
	"time"
)

// ClaimKind distinguishes the two signable identities in a lattice.
type ClaimKind string

const (
	ClaimKindComponent ClaimKind = "component"
	ClaimKindProvider   ClaimKind = "provider"
)

// Claims is a signed token asserting the right to run under a given
// public identifier and to use declared capabilities. Claims are
// content-addressed by Subject: two claims with the same Subject must
// compare equal.
type Claims struct {
	Subject        string            // the 56-char public identifier
	Issuer         string            // signing authority's public key
	Kind           ClaimKind
	Name           string
	Revision       int64
	Version        string
	CallAlias      string   // optional human-routable alias
	Tags           []string `json:"Tags,omitempty"`
	ConfigSchema   string   `json:"ConfigSchema,omitempty"`
	Capabilities   []string // WIT namespaces this identity may invoke as a guest
	EncodedJWT     string   // the original signed token, kept for re-verification
}

// Equal reports whether two claims are interchangeable for the
// content-addressing invariant in spec.md §3 ("Invariants").
func (c *Claims) Equal(other *Claims) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.EncodedJWT == other.EncodedJWT
}

// Link is a directed, named binding from a source component/provider to
// a target component/provider, qualified by a WIT interface set.
type Link struct {
	SourceID   string
	TargetID   string
	Namespace  string // wit_namespace
	Package    string // wit_package
	Interfaces []string
	Name       string // defaults to "default"
	SourceConfigNames []string
	TargetConfigNames []string
}

// LinkKey is the unique identity of a link on the source side:
// (source_id, namespace, package, name).
type LinkKey struct {
	SourceID  string
	Namespace string
	Package   string
	Name      string
}

// KeyFromSource returns the LinkKey this link is indexed under.
func (l *Link) KeyFromSource() LinkKey {
	name := l.Name
	if name == "" {
		name = "default"
	}
	return LinkKey{SourceID: l.SourceID, Namespace: l.Namespace, Package: l.Package, Name: name}
}

// Equal reports structural equality, used by the link table's
// idempotent put semantics.
func (l *Link) Equal(other *Link) bool {
	if l == nil || other == nil {
		return l == other
	}
	if l.SourceID != other.SourceID || l.TargetID != other.TargetID ||
		l.Namespace != other.Namespace || l.Package != other.Package ||
		l.Name != other.Name {
		return false
	}
	if len(l.Interfaces) != len(other.Interfaces) {
		return false
	}
	for i := range l.Interfaces {
		if l.Interfaces[i] != other.Interfaces[i] {
			return false
		}
	}
	return stringSliceEqual(l.SourceConfigNames, other.SourceConfigNames) &&
		stringSliceEqual(l.TargetConfigNames, other.TargetConfigNames)
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ComponentSpec is the desired wiring of one component, keyed by
// component id in the KV store under COMPONENT_<id>.
type ComponentSpec struct {
	ImageReference string
	Links          []*Link
}

// ConfigEntry is a named, versioned configuration map. Values are
// plain strings for both config and secrets entries; ConfigEntry does
// not wrap them in SecretValue.
type ConfigEntry struct {
	Name     string
	Values   map[string]string
	Revision int64
}

// SecretValue wraps an opaque secret so that accidental logging or
// tracing never serializes the plaintext.
type SecretValue struct {
	plaintext []byte
}

// NewSecretValue wraps plaintext bytes.
func NewSecretValue(plaintext []byte) SecretValue {
	return SecretValue{plaintext: plaintext}
}

// Reveal returns the wrapped plaintext. Callers must not log or trace it.
func (s SecretValue) Reveal() []byte {
	return s.plaintext
}

// String implements fmt.Stringer without ever emitting the plaintext.
func (s SecretValue) String() string {
	return "<secret>"
}

// MarshalJSON never emits the plaintext; secrets are re-derived from the
// encrypted store, not from the in-memory representation.
func (s SecretValue) MarshalJSON() ([]byte, error) {
	return []byte(`"<secret>"`), nil
}

// InstanceState is the lifecycle of one running component instance.
type InstanceState string

const (
	InstanceLoaded   InstanceState = "loaded"
	InstanceReady    InstanceState = "ready"
	InstanceInvoking InstanceState = "invoking"
	InstanceDraining InstanceState = "draining"
	InstanceGone     InstanceState = "gone"
)

// RunningComponent is the per-host bookkeeping for a loaded component id.
type RunningComponent struct {
	ID                string
	Spec              *ComponentSpec
	MaxConcurrent     int
	MaxExecutionTime  time.Duration
	InFlight          int
	State             InstanceState
}

// ProviderHealthState mirrors the health of a running provider process.
type ProviderHealthState string

const (
	ProviderHealthUnknown   ProviderHealthState = "unknown"
	ProviderHealthHealthy   ProviderHealthState = "healthy"
	ProviderHealthUnhealthy ProviderHealthState = "unhealthy"
	ProviderHealthCrashed   ProviderHealthState = "crashed"
)

// RunningProvider is the per-host handle for a running provider process.
type RunningProvider struct {
	ID          string
	LinkName    string
	Process     int // OS pid
	XKeyPublic  string
	Health      ProviderHealthState
	StartedAt   time.Time
}

// HostInfo is the self-description of one host in the lattice.
type HostInfo struct {
	ID        string
	Uptime    time.Duration
	Labels    map[string]string
	StartedAt time.Time
}

// ComponentSummary is one entry of an inventory snapshot.
type ComponentSummary struct {
	ID           string
	ImageRef     string
	Revision     int64
	MaxInstances int
}

// ProviderSummary is one entry of an inventory snapshot.
type ProviderSummary struct {
	ID       string
	ImageRef string
	Revision int64
	Name     string
}

// Inventory is a host-local self-report used by control.host.inventory.
type Inventory struct {
	Host       HostInfo
	Components map[string]ComponentSummary
	Providers  map[string]ProviderSummary
}
