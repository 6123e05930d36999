package export

import (
	"errors"
	"fmt"

	"github.com/samber/lo"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/labels"

	"github.com/acrlabs/simkube/pkg/store"
)

// ErrMalformedLabelSelector is returned when one of a Filter's
// ExcludedLabels entries isn't a valid label selector (spec.md §7:
// MalformedLabelSelector is fatal to the request that carried it, not
// silently dropped).
var ErrMalformedLabelSelector = errors.New("export: malformed label selector")

// Filter is the predicate applied to a trace at export time: objects in
// excluded namespaces, owned by a DaemonSet (when requested), or matching
// an excluded label selector are dropped from the exported event stream.
type Filter struct {
	ExcludedNamespaces []string                `json:"excludedNamespaces,omitempty" yaml:"excludedNamespaces,omitempty"`
	ExcludedLabels     []metav1.LabelSelector  `json:"excludedLabels,omitempty" yaml:"excludedLabels,omitempty"`
	ExcludeDaemonSets  bool                    `json:"excludeDaemonsets,omitempty" yaml:"excludeDaemonsets,omitempty"`
}

// IsEmpty reports whether this filter excludes nothing, letting callers
// skip the per-object walk entirely.
func (f Filter) IsEmpty() bool {
	return len(f.ExcludedNamespaces) == 0 && len(f.ExcludedLabels) == 0 && !f.ExcludeDaemonSets
}

// Validate parses every selector in f.ExcludedLabels, returning
// ErrMalformedLabelSelector wrapping the first one that fails to parse.
// Callers must call Validate before filtering so a malformed selector fails
// the request up front instead of being silently skipped per-object.
func (f Filter) Validate() error {
	for _, sel := range f.ExcludedLabels {
		if _, err := metav1.LabelSelectorAsSelector(&sel); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrMalformedLabelSelector, metav1.FormatLabelSelector(&sel), err)
		}
	}
	return nil
}

// excludes reports whether obj matches one of f's exclusion rules. Callers
// must have already run f.Validate(); a selector that fails to parse here
// is treated as already rejected and matches nothing.
func (f Filter) excludes(obj *unstructured.Unstructured) bool {
	ns := obj.GetNamespace()
	for _, excluded := range f.ExcludedNamespaces {
		if ns == excluded {
			return true
		}
	}

	if f.ExcludeDaemonSets {
		for _, owner := range obj.GetOwnerReferences() {
			if owner.Kind == "DaemonSet" {
				return true
			}
		}
	}

	if len(f.ExcludedLabels) > 0 {
		objLabels := labels.Set(obj.GetLabels())
		for _, sel := range f.ExcludedLabels {
			selector, err := metav1.LabelSelectorAsSelector(&sel)
			if err != nil {
				continue
			}
			if selector.Matches(objLabels) {
				return true
			}
		}
	}

	return false
}

// filterObjs returns the subset of objs that survive f.
func (f Filter) filterObjs(objs []*unstructured.Unstructured) []*unstructured.Unstructured {
	if f.IsEmpty() || len(objs) == 0 {
		return objs
	}
	return lo.Reject(objs, func(obj *unstructured.Unstructured, _ int) bool {
		return f.excludes(obj)
	})
}

// filterEvent applies f to a single event, returning the filtered event and
// whether it should be kept at all — an event that loses every object to
// filtering is dropped rather than carried forward empty.
func filterEvent(e store.TraceEvent, f Filter) (store.TraceEvent, bool) {
	if f.IsEmpty() {
		return e, true
	}
	out := store.TraceEvent{
		Ts:      e.Ts,
		Applied: f.filterObjs(e.Applied),
		Deleted: f.filterObjs(e.Deleted),
	}
	if out.IsEmpty() {
		return out, false
	}
	return out, true
}
