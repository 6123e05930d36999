package kube

import (
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/acrlabs/simkube/pkg/jsonptr"
)

// SanitizeObject returns a deep copy of obj with every server-assigned or
// environment-bound field stripped, suitable for stable hashing and for
// storage/replay. The well-known metadata fields and the whole status
// subtree are removed unconditionally; callers that know more about the
// object's shape (pods) layer additional stripping on top via
// SanitizePodSpec.
func SanitizeObject(obj *unstructured.Unstructured) *unstructured.Unstructured {
	out := obj.DeepCopy()

	unstructured.RemoveNestedField(out.Object, "metadata", "uid")
	unstructured.RemoveNestedField(out.Object, "metadata", "resourceVersion")
	unstructured.RemoveNestedField(out.Object, "metadata", "managedFields")
	unstructured.RemoveNestedField(out.Object, "metadata", "creationTimestamp")
	unstructured.RemoveNestedField(out.Object, "metadata", "deletionTimestamp")
	unstructured.RemoveNestedField(out.Object, "metadata", "annotations", lastAppliedConfigAnnotationKey)
	unstructured.RemoveNestedField(out.Object, "metadata", "annotations", deploymentRevisionAnnotationKey)
	unstructured.RemoveNestedField(out.Object, "status")

	if anns, found, _ := unstructured.NestedMap(out.Object, "metadata", "annotations"); found && len(anns) == 0 {
		unstructured.RemoveNestedField(out.Object, "metadata", "annotations")
	}

	// Wildcard-strip container ports on pod-template-shaped objects
	// (Deployments, StatefulSets, DaemonSets, Jobs, CronJobs, bare Pods) —
	// matches the stripping the driver performs before replay so the
	// pre-replay hash and the recorded hash agree. A path that doesn't
	// exist on this object's shape is simply a no-op.
	for _, path := range []string{
		"/spec/template/spec/containers/*/",
		"/spec/template/spec/initContainers/*/",
		"/spec/jobTemplate/spec/template/spec/containers/*/",
		"/spec/containers/*/",
		"/spec/initContainers/*/",
	} {
		_ = jsonptr.Remove(out.Object, path, "ports")
	}

	return out
}
