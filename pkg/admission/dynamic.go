package admission

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	admissionv1 "k8s.io/api/admission/v1"

	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"
)

// DynamicMutator lets a single long-lived HTTP handler serve whichever
// Simulation currently holds the cluster-wide lease (spec.md §4.6: at most
// one active simulation), by atomically swapping the underlying Mutator as
// simulations start and finish. Requests arriving while no simulation is
// active are allowed unconditionally, since there's no SimulationRoot for
// any owner chain to terminate at.
type DynamicMutator struct {
	current atomic.Pointer[Mutator]
}

// Set installs m as the active Mutator. Passing nil reverts to the
// no-active-simulation allow-everything behavior.
func (d *DynamicMutator) Set(m *Mutator) {
	d.current.Store(m)
}

func (d *DynamicMutator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m := d.current.Load()
	if m == nil {
		allowAll(w, r)
		return
	}
	m.ServeHTTP(w, r)
}

// allowAll answers every request with an unconditional Allowed response,
// used while no simulation holds the lease and there's nothing to mutate.
func allowAll(w http.ResponseWriter, r *http.Request) {
	log := ctrllog.FromContext(r.Context())

	var review admissionv1.AdmissionReview
	if err := json.NewDecoder(r.Body).Decode(&review); err != nil {
		http.Error(w, "decoding admission review: "+err.Error(), http.StatusBadRequest)
		return
	}

	uid := admissionv1.AdmissionResponse{Allowed: true}
	if review.Request != nil {
		uid.UID = review.Request.UID
	}
	review.Response = &uid
	review.Request = nil

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(review); err != nil {
		log.Error(err, "encoding admission response")
	}
}
