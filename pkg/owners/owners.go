// Package owners implements the bounded, coalescing cache the pod watcher
// and admission mutator use to resolve an object's owner chain without
// hammering the API server on every event.
package owners

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/lo"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"golang.org/x/sync/singleflight"

	"github.com/acrlabs/simkube/pkg/gvk"
)

// DefaultCacheSize is the number of (GVK, ns/name) -> owner-reference
// entries the cache keeps before evicting the least recently used.
const DefaultCacheSize = 10_000

// MaxChainDepth bounds how many links Chain will follow before giving up;
// a real owner chain is at most a handful of levels deep (pod -> replicaset
// -> deployment -> simulation root), so this is purely a cycle backstop.
const MaxChainDepth = 16

// ErrCycleDetected is returned by Chain when walking owner references
// revisits an object already seen earlier in the same walk.
var ErrCycleDetected = errors.New("owners: cycle detected in owner chain")

// ErrMaxDepthExceeded is returned by Chain when a walk exceeds MaxChainDepth
// without reaching an object with no further owner.
var ErrMaxDepthExceeded = errors.New("owners: owner chain exceeds max depth")

// Resolver looks up the immediate owner references of a single object.
// The concrete implementation (DynamicResolver) hits the API server; tests
// supply a fake.
type Resolver interface {
	OwnerReferences(ctx context.Context, g gvk.GVK, n gvk.NsName) ([]metav1.OwnerReference, error)
}

type key struct {
	gvk    gvk.GVK
	nsName gvk.NsName
}

// Cache wraps a Resolver with an LRU cache and singleflight coalescing, so
// concurrent lookups for the same object share a single upstream call.
type Cache struct {
	resolver Resolver
	lru      *lru.Cache[key, []metav1.OwnerReference]
	group    singleflight.Group
}

// New builds a Cache of DefaultCacheSize around resolver.
func New(resolver Resolver) (*Cache, error) {
	return NewSized(resolver, DefaultCacheSize)
}

// NewSized builds a Cache holding at most size entries.
func NewSized(resolver Resolver, size int) (*Cache, error) {
	c, err := lru.New[key, []metav1.OwnerReference](size)
	if err != nil {
		return nil, fmt.Errorf("owners: building LRU cache: %w", err)
	}
	return &Cache{resolver: resolver, lru: c}, nil
}

// OwnerReferences returns the immediate owner references of (g, n),
// fetching and caching them on a miss. Concurrent callers asking about the
// same key share one Resolver call.
func (c *Cache) OwnerReferences(ctx context.Context, g gvk.GVK, n gvk.NsName) ([]metav1.OwnerReference, error) {
	k := key{gvk: g, nsName: n}
	if refs, ok := c.lru.Get(k); ok {
		return refs, nil
	}

	v, err, _ := c.group.Do(fmt.Sprintf("%s|%s", g, n), func() (interface{}, error) {
		refs, err := c.resolver.OwnerReferences(ctx, g, n)
		if err != nil {
			return nil, err
		}
		c.lru.Add(k, refs)
		return refs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]metav1.OwnerReference), nil
}

// Link is one step of an owner chain: the GVK and name of the owning
// object.
type Link struct {
	GVK    gvk.GVK
	NsName gvk.NsName
}

// Chain walks the owner chain starting at (g, n), following the controller
// reference (falling back to the first reference when none is marked
// controller) at each level until an object with no owners is reached. The
// returned slice always starts with {g, n} itself. Circular ownership and
// chains deeper than MaxChainDepth fail with a typed error rather than
// recursing forever.
func (c *Cache) Chain(ctx context.Context, g gvk.GVK, n gvk.NsName) ([]Link, error) {
	chain := []Link{{GVK: g, NsName: n}}
	visited := map[key]struct{}{{gvk: g, nsName: n}: {}}

	curGVK, curName := g, n
	for depth := 0; ; depth++ {
		if depth >= MaxChainDepth {
			return nil, ErrMaxDepthExceeded
		}

		refs, err := c.OwnerReferences(ctx, curGVK, curName)
		if err != nil {
			return nil, err
		}
		if len(refs) == 0 {
			return chain, nil
		}

		owner := controllerRef(refs)
		ownerGVK, err := gvk.FromOwnerReference(owner.APIVersion, owner.Kind)
		if err != nil {
			return nil, err
		}
		ownerName := gvk.NsName{Namespace: curName.Namespace, Name: owner.Name}

		k := key{gvk: ownerGVK, nsName: ownerName}
		if _, seen := visited[k]; seen {
			return nil, ErrCycleDetected
		}
		visited[k] = struct{}{}

		chain = append(chain, Link{GVK: ownerGVK, NsName: ownerName})
		curGVK, curName = ownerGVK, ownerName
	}
}

// controllerRef picks the reference that owns the object for chain-walking
// purposes: the one marked Controller, or the first reference if none is.
func controllerRef(refs []metav1.OwnerReference) metav1.OwnerReference {
	return lo.FindOrElse(refs, refs[0], func(r metav1.OwnerReference) bool {
		return r.Controller != nil && *r.Controller
	})
}
