// Package claims implements the claims store (spec.md §4.2): signed
// JWT-shaped tokens that assert a component or provider's identity and
// declared capabilities, backed by the lattice bus's KV store under
// key CLAIMS_<subject> and mirrored in a local in-memory cache.
package claims

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Masterminds/semver/v3"
	natsjwt "github.com/nats-io/jwt/v2"
	"github.com/nats-io/nkeys"

	"github.com/latticehq/hostd/pkg/bus"
	"github.com/latticehq/hostd/pkg/errs"
	"github.com/latticehq/hostd/pkg/log"
	"github.com/latticehq/hostd/pkg/types"
)

const keyPrefix = "CLAIMS_"

func keyFor(subject string) string {
	return keyPrefix + subject
}

// Sign encodes claims as a self-verifying JWT signed by issuerSeed (an
// nkeys seed string, e.g. an account or operator key), filling in
// claims.EncodedJWT and returning the encoded token.
func Sign(c *types.Claims, issuerSeed string) (string, error) {
	kp, err := nkeys.FromSeed([]byte(issuerSeed))
	if err != nil {
		return "", fmt.Errorf("parsing issuer seed: %w", err)
	}
	issuerPub, err := kp.PublicKey()
	if err != nil {
		return "", fmt.Errorf("deriving issuer public key: %w", err)
	}

	gc := natsjwt.NewGenericClaims(c.Subject)
	gc.Issuer = issuerPub
	gc.Name = c.Name
	gc.Data["kind"] = string(c.Kind)
	gc.Data["revision"] = c.Revision
	gc.Data["version"] = c.Version
	gc.Data["call_alias"] = c.CallAlias
	gc.Data["tags"] = c.Tags
	gc.Data["config_schema"] = c.ConfigSchema
	gc.Data["capabilities"] = c.Capabilities

	token, err := gc.Encode(kp)
	if err != nil {
		return "", fmt.Errorf("encoding claims jwt: %w", err)
	}
	c.Issuer = issuerPub
	c.EncodedJWT = token
	return token, nil
}

// Decode verifies and decodes a claims JWT into the in-repo Claims
// shape. A subject mismatch between the decoded token and an expected
// subject (when expectedSubject is non-empty) is surfaced as a
// DataCorruption error per spec.md §4.2.
func Decode(token string, expectedSubject string) (*types.Claims, error) {
	gc, err := natsjwt.DecodeGeneric(token)
	if err != nil {
		return nil, errs.Wrap(errs.KindDataCorruption, "decoding claims jwt", err)
	}
	if expectedSubject != "" && gc.Subject != expectedSubject {
		return nil, errs.New(errs.KindDataCorruption,
			fmt.Sprintf("claims subject %s does not match key subject %s", gc.Subject, expectedSubject))
	}

	c := &types.Claims{
		Subject:    gc.Subject,
		Issuer:     gc.Issuer,
		Name:       gc.Name,
		EncodedJWT: token,
	}
	if kind, ok := gc.Data["kind"].(string); ok {
		c.Kind = types.ClaimKind(kind)
	}
	if rev, ok := gc.Data["revision"].(float64); ok {
		c.Revision = int64(rev)
	}
	if v, ok := gc.Data["version"].(string); ok {
		c.Version = v
	}
	if a, ok := gc.Data["call_alias"].(string); ok {
		c.CallAlias = a
	}
	if s, ok := gc.Data["config_schema"].(string); ok {
		c.ConfigSchema = s
	}
	c.Tags = toStringSlice(gc.Data["tags"])
	c.Capabilities = toStringSlice(gc.Data["capabilities"])
	return c, nil
}

func toStringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Version parses c.Version as semver, returning an error if it's not a
// valid version string. Used to order component.update revisions.
func Version(c *types.Claims) (*semver.Version, error) {
	return semver.NewVersion(c.Version)
}

// Store is the claims store described in spec.md §4.2: put writes
// through to the bus KV and updates the local cache before returning;
// get is local-only; delete removes both.
type Store struct {
	b bus.Bus

	mu    sync.RWMutex
	cache map[string]*types.Claims
}

func NewStore(b bus.Bus) *Store {
	return &Store{b: b, cache: make(map[string]*types.Claims)}
}

// Put serializes claim and writes it under CLAIMS_<subject>, returning
// only after the local cache reflects the new value.
func (s *Store) Put(ctx context.Context, claim *types.Claims) error {
	data, err := json.Marshal(claim)
	if err != nil {
		return fmt.Errorf("marshaling claims for %s: %w", claim.Subject, err)
	}
	if err := s.b.KVPut(ctx, keyFor(claim.Subject), data); err != nil {
		return err
	}

	s.mu.Lock()
	s.cache[claim.Subject] = claim
	s.mu.Unlock()
	return nil
}

// Get returns the locally cached claim for id, if any.
func (s *Store) Get(id string) (*types.Claims, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cache[id]
	return c, ok
}

// Delete removes id from both the local cache and the bus KV store.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.b.KVDelete(ctx, keyFor(id)); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.cache, id)
	s.mu.Unlock()
	return nil
}

// KeyPrefix returns the KV key prefix claims are stored under, so a
// caller dispatching a wider-scoped watch (the reconciler, spec.md
// §4.8) can recognize which keys belong to this store.
func KeyPrefix() string {
	return keyPrefix
}

// SubjectFromKey strips the CLAIMS_ prefix from a full KV key.
func SubjectFromKey(key string) string {
	return key[len(keyPrefix):]
}

// ApplyPut updates the local cache from an externally-observed KV
// put, verifying claim.Subject matches the key suffix per spec.md §3's
// subject-integrity invariant. Unlike Put, it does not write back to
// the bus KV store — it is for callers (Watch, or the reconciler)
// reacting to a change someone else already wrote.
func (s *Store) ApplyPut(subject string, data []byte) error {
	var claim types.Claims
	if err := json.Unmarshal(data, &claim); err != nil {
		return errs.Wrap(errs.KindDataCorruption, "decode claims value", err)
	}
	if claim.Subject != subject {
		return errs.New(errs.KindDataCorruption,
			fmt.Sprintf("claims subject %s does not match key subject %s", claim.Subject, subject))
	}
	s.mu.Lock()
	s.cache[subject] = &claim
	s.mu.Unlock()
	return nil
}

// ApplyDelete removes subject from the local cache only, for the same
// externally-observed-change case as ApplyPut.
func (s *Store) ApplyDelete(subject string) {
	s.mu.Lock()
	delete(s.cache, subject)
	s.mu.Unlock()
}

// Watch consumes the bus's CLAIMS_ prefix watch and keeps the local
// cache in sync until ctx is cancelled. A subject mismatch or
// undecodable value is logged and the key is skipped, per spec.md §7's
// DataCorruption handling: never crashes the host. Most deployments
// instead let the reconciler's single lattice-wide watch dispatch
// CLAIMS_ keys to ApplyPut/ApplyDelete directly; Watch remains useful
// for a claims-only observer that doesn't need the rest of the
// reconciler's dispatch table.
func (s *Store) Watch(ctx context.Context) error {
	events, err := s.b.KVWatch(ctx, keyPrefix)
	if err != nil {
		return err
	}

	go func() {
		for ev := range events {
			subject := SubjectFromKey(ev.Key)
			switch ev.Op {
			case bus.KVDelete, bus.KVPurge:
				s.ApplyDelete(subject)
			case bus.KVPut:
				if err := s.ApplyPut(subject, ev.Value); err != nil {
					log.Logger.Error().Err(err).Str("subject", subject).Msg("skipping invalid claims update")
				}
			}
		}
	}()
	return nil
}
