// Package discovery caches the mapping from a tracked GVK to the dynamic
// client resource interface that serves it, so every watcher and the
// replay driver pay the discovery RPC cost once per GVK rather than once
// per object.
package discovery

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/discovery"
	memcached "k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/restmapper"

	"github.com/acrlabs/simkube/pkg/gvk"
)

// resourceMeta is what the cache remembers about a GVK once discovery has
// resolved it: the GVR to address it by and whether it's namespaced.
type resourceMeta struct {
	gvr         schema.GroupVersionResource
	namespaced  bool
}

// Cache resolves and remembers, per GVK, the API resource and a dynamic
// client scoped to it. A single in-flight discovery RPC is shared across
// concurrent callers asking about the same GVK.
type Cache struct {
	mapper  meta.RESTMapper
	dynamic dynamic.Interface

	group singleflight.Group

	mu        sync.RWMutex
	resources map[gvk.GVK]resourceMeta
}

// New builds a Cache backed by a lazily-populated, cached REST mapper and a
// dynamic client, both built from cfg the way a controller-runtime manager
// would.
func New(cfg *rest.Config) (*Cache, error) {
	disco, err := discovery.NewDiscoveryClientForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("discovery: building discovery client: %w", err)
	}
	dyn, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("discovery: building dynamic client: %w", err)
	}

	mapper := restmapper.NewDeferredDiscoveryRESTMapper(memcached.NewMemCacheClient(disco))

	return &Cache{
		mapper:    mapper,
		dynamic:   dyn,
		resources: map[gvk.GVK]resourceMeta{},
	}, nil
}

// ResourceFor returns the dynamic resource interface serving g, along with
// whether g is a namespaced kind. Concurrent calls for the same GVK
// coalesce into a single discovery round trip.
func (c *Cache) ResourceFor(_ context.Context, g gvk.GVK) (dynamic.NamespaceableResourceInterface, bool, error) {
	c.mu.RLock()
	rm, ok := c.resources[g]
	c.mu.RUnlock()
	if ok {
		return c.dynamic.Resource(rm.gvr), rm.namespaced, nil
	}

	v, err, _ := c.group.Do(g.String(), func() (interface{}, error) {
		mapping, err := c.mapper.RESTMapping(schema.GroupKind{Group: g.Group, Kind: g.Kind}, g.Version)
		if err != nil {
			return nil, fmt.Errorf("discovery: resolving %s: %w", g, err)
		}
		resolved := resourceMeta{
			gvr:        mapping.Resource,
			namespaced: mapping.Scope.Name() == meta.RESTScopeNameNamespace,
		}
		c.mu.Lock()
		c.resources[g] = resolved
		c.mu.Unlock()
		return resolved, nil
	})
	if err != nil {
		return nil, false, err
	}

	resolved := v.(resourceMeta)
	return c.dynamic.Resource(resolved.gvr), resolved.namespaced, nil
}

// Reset drops every cached resolution, forcing the next ResourceFor call
// for each GVK to re-run discovery. Used after a CRD install/upgrade.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resources = map[gvk.GVK]resourceMeta{}
}
