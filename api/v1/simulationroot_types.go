package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
)

// SimulationRootSpec is intentionally empty; SimulationRoot exists purely to
// be the owner of every resource a Simulation creates, so deleting it
// cascades via Kubernetes owner-reference garbage collection.
type SimulationRootSpec struct{}

// SimulationRoot is the Schema for the SimulationRoot API.
// +kubebuilder:object:root=true
// +kubebuilder:resource:path=simulationroots,scope=Cluster,shortName=simroot;simroots
type SimulationRoot struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec SimulationRootSpec `json:"spec,omitempty"`
}

// SimulationRootList is a list of SimulationRoot resources.
// +kubebuilder:object:root=true
type SimulationRootList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []SimulationRoot `json:"items"`
}

func (in *SimulationRoot) DeepCopyObject() runtime.Object {
	if in == nil {
		return nil
	}
	return &SimulationRoot{
		TypeMeta:   in.TypeMeta,
		ObjectMeta: *in.ObjectMeta.DeepCopy(),
		Spec:       in.Spec,
	}
}

func (in *SimulationRootList) DeepCopyObject() runtime.Object {
	if in == nil {
		return nil
	}
	out := &SimulationRootList{TypeMeta: in.TypeMeta, ListMeta: in.ListMeta}
	if in.Items != nil {
		out.Items = make([]SimulationRoot, len(in.Items))
		for i := range in.Items {
			out.Items[i] = *in.Items[i].DeepCopyObject().(*SimulationRoot)
		}
	}
	return out
}
