// Package v1 contains the simkube.io/v1 API group: the Simulation and
// SimulationRoot custom resources that drive the recording/replay
// controller.
// +kubebuilder:object:generate=true
// +groupName=simkube.io
package v1

import (
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const GroupName = "simkube.io"

var (
	// GroupVersion is the API group and version used to register these
	// types.
	GroupVersion = schema.GroupVersion{Group: GroupName, Version: "v1"}

	// SchemeBuilder registers the types in this package with a runtime
	// Scheme.
	SchemeBuilder = &schemeBuilder{}

	// AddToScheme is exposed for controller-runtime manager setup.
	AddToScheme = SchemeBuilder.AddToScheme
)

type schemeBuilder struct{}

func (schemeBuilder) AddToScheme(scheme *runtime.Scheme) error {
	scheme.AddKnownTypes(GroupVersion,
		&Simulation{},
		&SimulationList{},
		&SimulationRoot{},
		&SimulationRootList{},
	)
	metav1.AddToGroupVersion(scheme, GroupVersion)
	return nil
}
