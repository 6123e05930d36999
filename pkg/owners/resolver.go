package owners

import (
	"context"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/acrlabs/simkube/pkg/discovery"
	"github.com/acrlabs/simkube/pkg/gvk"
)

// DynamicResolver resolves owner references by fetching the named object
// through the dynamic client discovery resolves for its GVK.
type DynamicResolver struct {
	Discovery *discovery.Cache
}

// OwnerReferences fetches (g, n) and returns its metadata.ownerReferences.
func (r *DynamicResolver) OwnerReferences(ctx context.Context, g gvk.GVK, n gvk.NsName) ([]metav1.OwnerReference, error) {
	resource, namespaced, err := r.Discovery.ResourceFor(ctx, g)
	if err != nil {
		return nil, fmt.Errorf("owners: resolving resource for %s: %w", g, err)
	}

	var obj interface {
		GetOwnerReferences() []metav1.OwnerReference
	}
	if namespaced {
		u, err := resource.Namespace(n.Namespace).Get(ctx, n.Name, metav1.GetOptions{})
		if err != nil {
			return nil, fmt.Errorf("owners: fetching %s %s: %w", g, n, err)
		}
		obj = u
	} else {
		u, err := resource.Get(ctx, n.Name, metav1.GetOptions{})
		if err != nil {
			return nil, fmt.Errorf("owners: fetching %s %s: %w", g, n, err)
		}
		obj = u
	}

	return obj.GetOwnerReferences(), nil
}
