// Package admission implements the mutating admission webhook that
// redirects pods belonging to a simulation onto virtual nodes. It is a
// plain net/http handler (matching the teacher's bare net/http debug-server
// style) rather than a controller-runtime webhook.Server, so a single
// binary can serve it without pulling in a full manager.
package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	evanjsonpatch "github.com/evanphx/json-patch/v5"
	jsonpatch "gomodules.xyz/jsonpatch/v2"
	admissionv1 "k8s.io/api/admission/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/acrlabs/simkube/pkg/gvk"
	"github.com/acrlabs/simkube/pkg/kube"
	"github.com/acrlabs/simkube/pkg/owners"
)

// podGVK is the well-known GVK for core pods, matching pkg/watch.PodGVK
// without importing pkg/watch (the webhook has no watch-stream concerns).
var podGVK = gvk.GVK{Group: "", Version: "v1", Kind: "Pod"}

// Mutator decides whether an admitted pod belongs to a simulation and, if
// so, builds the JSON Patch that lands it on a virtual node.
type Mutator struct {
	Owners       *owners.Cache
	RootGVK      gvk.GVK
	RootNsName   gvk.NsName
	SimName      string
}

// NewMutator builds a Mutator that admits pods whose owner chain terminates
// at the named SimulationRoot.
func NewMutator(ownersCache *owners.Cache, rootGVK gvk.GVK, rootNsName gvk.NsName, simName string) *Mutator {
	return &Mutator{Owners: ownersCache, RootGVK: rootGVK, RootNsName: rootNsName, SimName: simName}
}

// ServeHTTP implements the AdmissionReview[Pod] webhook contract at POST /.
func (m *Mutator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := ctrllog.FromContext(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("reading request body: %v", err), http.StatusBadRequest)
		return
	}

	var review admissionv1.AdmissionReview
	if err := json.Unmarshal(body, &review); err != nil {
		http.Error(w, fmt.Sprintf("decoding admission review: %v", err), http.StatusBadRequest)
		return
	}

	resp := m.review(r.Context(), review.Request)
	review.Response = resp
	review.Request = nil

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(review); err != nil {
		log.Error(err, "encoding admission response")
	}
}

// review builds the AdmissionResponse for a single AdmissionRequest[Pod],
// preserving TypeMeta and UID per spec.md §6.
func (m *Mutator) review(ctx context.Context, req *admissionv1.AdmissionRequest) *admissionv1.AdmissionResponse {
	if req == nil {
		return deny(metav1.UID(""), fmt.Errorf("admission: empty request"))
	}

	var pod corev1.Pod
	if err := json.Unmarshal(req.Object.Raw, &pod); err != nil {
		return deny(req.UID, fmt.Errorf("admission: decoding pod: %w", err))
	}

	ns := pod.Namespace
	if ns == "" {
		ns = req.Namespace
	}
	podNsName := gvk.NsName{Namespace: ns, Name: pod.Name}

	terminates, err := m.chainTerminatesAtRoot(ctx, podNsName, pod.OwnerReferences)
	if err != nil {
		return deny(req.UID, fmt.Errorf("admission: resolving owner chain: %w", err))
	}
	if !terminates {
		return allow(req.UID)
	}

	patch, err := m.buildPatch(&pod)
	if err != nil {
		return deny(req.UID, err)
	}

	patchBytes, err := json.Marshal(patch)
	if err != nil {
		return deny(req.UID, fmt.Errorf("admission: marshaling patch: %w", err))
	}

	if err := validatePatch(&pod, patchBytes); err != nil {
		return deny(req.UID, err)
	}

	patchType := admissionv1.PatchTypeJSONPatch
	return &admissionv1.AdmissionResponse{
		UID:       req.UID,
		Allowed:   true,
		Patch:     patchBytes,
		PatchType: &patchType,
	}
}

// chainTerminatesAtRoot walks the pod's owner chain via the shared owners
// cache and reports whether the last link matches the configured
// SimulationRoot. If the pod has no owner references at all (a bare pod),
// it does not terminate at the root.
func (m *Mutator) chainTerminatesAtRoot(ctx context.Context, podNsName gvk.NsName, refs []metav1.OwnerReference) (bool, error) {
	if len(refs) == 0 {
		return false, nil
	}

	chain, err := m.Owners.Chain(ctx, podGVK, podNsName)
	if err != nil {
		return false, err
	}
	if len(chain) == 0 {
		return false, nil
	}

	// SimulationRoot is cluster-scoped, but Chain inherits each link's
	// namespace from the object below it (there being no namespace on an
	// owner reference itself), so the resolved root link carries the pod's
	// namespace rather than an empty one. Compare by name only.
	last := chain[len(chain)-1]
	return last.GVK == m.RootGVK && last.NsName.Name == m.RootNsName.Name, nil
}

// buildPatch constructs the JSON Patch described by spec.md §4.5, in the
// exact order the original mutation.rs builds it: ensure labels and
// tolerations exist, add the simulation label, set the node selector,
// append the virtual-node toleration.
func (m *Mutator) buildPatch(pod *corev1.Pod) ([]jsonpatch.Operation, error) {
	var patch []jsonpatch.Operation

	if pod.Labels == nil {
		patch = append(patch, jsonpatch.Operation{Operation: "add", Path: "/metadata/labels", Value: map[string]string{}})
	}
	if pod.Spec.Tolerations == nil {
		patch = append(patch, jsonpatch.Operation{Operation: "add", Path: "/spec/tolerations", Value: []corev1.Toleration{}})
	}

	patch = append(patch, jsonpatch.Operation{
		Operation: "add",
		Path:      "/metadata/labels/" + escapeJSONPointerSegment(kube.SimulationLabelKey),
		Value:     m.SimName,
	})

	patch = append(patch, jsonpatch.Operation{
		Operation: "add",
		Path:      "/spec/nodeSelector",
		Value:     map[string]string{"type": kube.VirtualNodeSelectorValue},
	})

	patch = append(patch, jsonpatch.Operation{
		Operation: "add",
		Path:      "/spec/tolerations/-",
		Value: corev1.Toleration{
			Key:      kube.VirtualNodeTolerationKey,
			Operator: corev1.TolerationOpEqual,
			Value:    "true",
		},
	})

	return patch, nil
}

// validatePatch proves patchBytes actually applies cleanly against pod's
// current state before the webhook commits to returning it, rather than
// trusting buildPatch's output blind. spec.md §7 treats JSON-patch
// evaluation errors (InvalidPointer/OutOfBounds/UnexpectedType) as fatal to
// the single mutation, so a failure here denies the admission instead of
// silently shipping a patch that would fail downstream.
func validatePatch(pod *corev1.Pod, patchBytes []byte) error {
	original, err := json.Marshal(pod)
	if err != nil {
		return fmt.Errorf("admission: marshaling original pod: %w", err)
	}

	decoded, err := evanjsonpatch.DecodePatch(patchBytes)
	if err != nil {
		return fmt.Errorf("admission: InvalidPointer: decoding patch: %w", err)
	}

	if _, err := decoded.Apply(original); err != nil {
		return fmt.Errorf("admission: %s: applying patch: %w", classifyPatchError(err), err)
	}
	return nil
}

// classifyPatchError maps an evanphx/json-patch apply failure onto spec.md
// §7's JSON-patch error kinds.
func classifyPatchError(err error) string {
	switch {
	case errors.Is(err, evanjsonpatch.ErrInvalidIndex):
		return "OutOfBounds"
	case errors.Is(err, evanjsonpatch.ErrUnknownType):
		return "UnexpectedType"
	default:
		return "InvalidPointer"
	}
}

// escapeJSONPointerSegment escapes a map key for use as a single JSON
// Pointer segment, per RFC 6901 (~ -> ~0, / -> ~1).
func escapeJSONPointerSegment(s string) string {
	s = strings.ReplaceAll(s, "~", "~0")
	s = strings.ReplaceAll(s, "/", "~1")
	return s
}

func allow(uid metav1.UID) *admissionv1.AdmissionResponse {
	return &admissionv1.AdmissionResponse{UID: uid, Allowed: true}
}

func deny(uid metav1.UID, err error) *admissionv1.AdmissionResponse {
	return &admissionv1.AdmissionResponse{
		UID:     uid,
		Allowed: false,
		Result:  &metav1.Status{Message: err.Error()},
	}
}
