package kube

import (
	"fmt"

	"github.com/mitchellh/hashstructure/v2"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// hashOpts disables hashstructure's slices-as-sets mode: map key order must
// not affect the hash, but array order in a Kubernetes object body
// (container lists, volume lists, mount lists) is semantically meaningful
// and must be preserved.
var hashOpts = &hashstructure.HashOptions{
	Format:       hashstructure.FormatV2,
	SlicesAsSets: false,
}

// HashObject computes the stable hash of a sanitized object. Callers are
// expected to have already run the object through SanitizeObject.
func HashObject(obj *unstructured.Unstructured) (uint64, error) {
	h, err := hashstructure.Hash(obj.Object, hashstructure.FormatV2, hashOpts)
	if err != nil {
		return 0, fmt.Errorf("kube: hash object: %w", err)
	}
	return h, nil
}

// HashPodSpec computes the stable hash of a sanitized pod spec, used to key
// pod lifecycle history by "distinct observed shape" in the owners map.
func HashPodSpec(spec *corev1.PodSpec) (uint64, error) {
	h, err := hashstructure.Hash(spec, hashstructure.FormatV2, hashOpts)
	if err != nil {
		return 0, fmt.Errorf("kube: hash pod spec: %w", err)
	}
	return h, nil
}
