package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
)

// SimulationState is the state of the Simulation reconcile state machine.
// +kubebuilder:validation:Enum=Blocked;Initializing;Running;Finished;Failed;Retrying
type SimulationState string

const (
	SimulationStateBlocked      SimulationState = "Blocked"
	SimulationStateInitializing SimulationState = "Initializing"
	SimulationStateRunning      SimulationState = "Running"
	SimulationStateFinished     SimulationState = "Finished"
	SimulationStateFailed       SimulationState = "Failed"
	SimulationStateRetrying     SimulationState = "Retrying"
)

// IsTerminal reports whether s is a state the controller will never leave.
func (s SimulationState) IsTerminal() bool {
	return s == SimulationStateFinished || s == SimulationStateFailed
}

// SimulationDriverConfig configures the driver Job the controller launches
// for a Simulation.
type SimulationDriverConfig struct {
	Namespace string  `json:"namespace"`
	Image     string  `json:"image"`
	TracePath string  `json:"tracePath"`
	Port      int32   `json:"port"`
	Speed     float64 `json:"speed"`
}

// SimulationMetricsConfig is a pass-through configuration block; metrics/
// ServiceMonitor provisioning itself is out of scope, but the field is kept
// so a Simulation manifest round-trips unchanged.
type SimulationMetricsConfig struct {
	Namespace               *string  `json:"namespace,omitempty"`
	ServiceAccount          *string  `json:"serviceAccount,omitempty"`
	PrometheusShards        *int32   `json:"prometheusShards,omitempty"`
	PodMonitorNames         []string `json:"podMonitorNames,omitempty"`
	PodMonitorNamespaces    []string `json:"podMonitorNamespaces,omitempty"`
	ServiceMonitorNames     []string `json:"serviceMonitorNames,omitempty"`
	ServiceMonitorNamespaces []string `json:"serviceMonitorNamespaces,omitempty"`
}

// SimulationHook names an external hook program the controller would shell
// out to; invocation itself is out of scope (external collaborator), the
// struct exists so hook configuration round-trips through the CRD.
type SimulationHook struct {
	Cmd            string   `json:"cmd"`
	Args           []string `json:"args,omitempty"`
	SendSim        *bool    `json:"sendSim,omitempty"`
	IgnoreFailure  *bool    `json:"ignoreFailure,omitempty"`
}

// SimulationHooksConfig groups the hook programs run at each state machine
// transition.
type SimulationHooksConfig struct {
	PreStartHooks []SimulationHook `json:"preStartHooks,omitempty"`
	PreRunHooks   []SimulationHook `json:"preRunHooks,omitempty"`
	PostRunHooks  []SimulationHook `json:"postRunHooks,omitempty"`
	PostStopHooks []SimulationHook `json:"postStopHooks,omitempty"`
}

// SimulationSpec is the desired state of a Simulation.
type SimulationSpec struct {
	Driver SimulationDriverConfig `json:"driver"`

	Metrics     *SimulationMetricsConfig `json:"metrics,omitempty"`
	Duration    *string                  `json:"duration,omitempty"`
	Repetitions *int32                   `json:"repetitions,omitempty"`
	Hooks       *SimulationHooksConfig   `json:"hooks,omitempty"`
	PausedTime  *metav1.Time             `json:"pausedTime,omitempty"`
}

// SimulationStatus is the observed state of a Simulation.
type SimulationStatus struct {
	ObservedGeneration int64            `json:"observedGeneration"`
	StartTime          *metav1.Time     `json:"startTime,omitempty"`
	EndTime            *metav1.Time     `json:"endTime,omitempty"`
	State              SimulationState  `json:"state,omitempty"`
	Message            string           `json:"message,omitempty"`
}

// Simulation is the Schema for the Simulation API.
// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:path=simulations,scope=Cluster,shortName=sim;sims
// +kubebuilder:printcolumn:name="Start Time",type="string",JSONPath=".status.startTime"
// +kubebuilder:printcolumn:name="End Time",type="string",JSONPath=".status.endTime"
// +kubebuilder:printcolumn:name="State",type="string",JSONPath=".status.state"
type Simulation struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   SimulationSpec   `json:"spec,omitempty"`
	Status SimulationStatus `json:"status,omitempty"`
}

// SimulationList is a list of Simulation resources.
// +kubebuilder:object:root=true
type SimulationList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Simulation `json:"items"`
}

func (in *SimulationDriverConfig) DeepCopy() *SimulationDriverConfig {
	if in == nil {
		return nil
	}
	out := *in
	return &out
}

func (in *SimulationMetricsConfig) DeepCopy() *SimulationMetricsConfig {
	if in == nil {
		return nil
	}
	out := *in
	if in.Namespace != nil {
		v := *in.Namespace
		out.Namespace = &v
	}
	if in.ServiceAccount != nil {
		v := *in.ServiceAccount
		out.ServiceAccount = &v
	}
	if in.PrometheusShards != nil {
		v := *in.PrometheusShards
		out.PrometheusShards = &v
	}
	out.PodMonitorNames = append([]string(nil), in.PodMonitorNames...)
	out.PodMonitorNamespaces = append([]string(nil), in.PodMonitorNamespaces...)
	out.ServiceMonitorNames = append([]string(nil), in.ServiceMonitorNames...)
	out.ServiceMonitorNamespaces = append([]string(nil), in.ServiceMonitorNamespaces...)
	return &out
}

func (in *SimulationHook) DeepCopy() *SimulationHook {
	if in == nil {
		return nil
	}
	out := *in
	out.Args = append([]string(nil), in.Args...)
	if in.SendSim != nil {
		v := *in.SendSim
		out.SendSim = &v
	}
	if in.IgnoreFailure != nil {
		v := *in.IgnoreFailure
		out.IgnoreFailure = &v
	}
	return &out
}

func deepCopyHookSlice(in []SimulationHook) []SimulationHook {
	if in == nil {
		return nil
	}
	out := make([]SimulationHook, len(in))
	for i := range in {
		out[i] = *in[i].DeepCopy()
	}
	return out
}

func (in *SimulationHooksConfig) DeepCopy() *SimulationHooksConfig {
	if in == nil {
		return nil
	}
	return &SimulationHooksConfig{
		PreStartHooks: deepCopyHookSlice(in.PreStartHooks),
		PreRunHooks:   deepCopyHookSlice(in.PreRunHooks),
		PostRunHooks:  deepCopyHookSlice(in.PostRunHooks),
		PostStopHooks: deepCopyHookSlice(in.PostStopHooks),
	}
}

func (in *SimulationSpec) DeepCopy() *SimulationSpec {
	if in == nil {
		return nil
	}
	out := *in
	out.Driver = *in.Driver.DeepCopy()
	out.Metrics = in.Metrics.DeepCopy()
	if in.Duration != nil {
		v := *in.Duration
		out.Duration = &v
	}
	if in.Repetitions != nil {
		v := *in.Repetitions
		out.Repetitions = &v
	}
	out.Hooks = in.Hooks.DeepCopy()
	if in.PausedTime != nil {
		v := in.PausedTime.DeepCopy()
		out.PausedTime = &v
	}
	return &out
}

func (in *SimulationStatus) DeepCopy() *SimulationStatus {
	if in == nil {
		return nil
	}
	out := *in
	if in.StartTime != nil {
		v := in.StartTime.DeepCopy()
		out.StartTime = &v
	}
	if in.EndTime != nil {
		v := in.EndTime.DeepCopy()
		out.EndTime = &v
	}
	return &out
}

// DeepCopyObject implements runtime.Object, satisfying client.Object.
func (in *Simulation) DeepCopyObject() runtime.Object {
	if in == nil {
		return nil
	}
	out := &Simulation{
		TypeMeta:   in.TypeMeta,
		ObjectMeta: *in.ObjectMeta.DeepCopy(),
		Spec:       *in.Spec.DeepCopy(),
		Status:     *in.Status.DeepCopy(),
	}
	return out
}

// DeepCopyObject implements runtime.Object for list types.
func (in *SimulationList) DeepCopyObject() runtime.Object {
	if in == nil {
		return nil
	}
	out := &SimulationList{
		TypeMeta: in.TypeMeta,
		ListMeta: in.ListMeta,
	}
	if in.Items != nil {
		out.Items = make([]Simulation, len(in.Items))
		for i := range in.Items {
			out.Items[i] = *in.Items[i].DeepCopyObject().(*Simulation)
		}
	}
	return out
}
