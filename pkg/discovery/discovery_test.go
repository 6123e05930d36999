package discovery

import (
	"context"
	"testing"

	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"

	ourgvk "github.com/acrlabs/simkube/pkg/gvk"
)

var deploymentGVK = schema.GroupVersionKind{Group: "apps", Version: "v1", Kind: "Deployment"}

func newTestCache(t *testing.T) *Cache {
	t.Helper()

	mapper := meta.NewDefaultRESTMapper([]schema.GroupVersion{{Group: "apps", Version: "v1"}})
	mapper.Add(deploymentGVK, meta.RESTScopeNamespace)

	scheme := runtime.NewScheme()
	dyn := dynamicfake.NewSimpleDynamicClient(scheme)

	return &Cache{
		mapper:    mapper,
		dynamic:   dyn,
		resources: map[ourgvk.GVK]resourceMeta{},
	}
}

func TestResourceForResolvesAndCaches(t *testing.T) {
	c := newTestCache(t)
	g := ourgvk.GVK{Group: "apps", Version: "v1", Kind: "Deployment"}

	_, namespaced, err := c.ResourceFor(context.Background(), g)
	if err != nil {
		t.Fatalf("ResourceFor: %v", err)
	}
	if !namespaced {
		t.Error("expected Deployment to resolve as namespaced")
	}

	if _, ok := c.resources[g]; !ok {
		t.Error("expected GVK to be cached after first resolution")
	}
}

func TestResourceForUnknownGVKErrors(t *testing.T) {
	c := newTestCache(t)
	g := ourgvk.GVK{Group: "nope", Version: "v1", Kind: "Nothing"}

	if _, _, err := c.ResourceFor(context.Background(), g); err == nil {
		t.Fatal("expected an error resolving an unregistered GVK")
	}
}

func TestResetClearsCache(t *testing.T) {
	c := newTestCache(t)
	g := ourgvk.GVK{Group: "apps", Version: "v1", Kind: "Deployment"}

	if _, _, err := c.ResourceFor(context.Background(), g); err != nil {
		t.Fatalf("ResourceFor: %v", err)
	}
	c.Reset()
	if len(c.resources) != 0 {
		t.Error("expected Reset to clear the cache")
	}
}
