package kube

// Well-known label, annotation, and taint keys shared across the recording
// and replay pipeline.
const (
	OrigNamespaceAnnotationKey = "simkube.io/original-namespace"
	SimulationLabelKey         = "simkube.io/simulation"
	VirtualLabelKey            = "simkube.io/virtual"
	PodSpecStableHashKey       = "simkube.io/pod-spec-stable-hash"
	PodSequenceNumberKey       = "simkube.io/pod-sequence-number"

	VirtualNodeTolerationKey = "kwok-provider"
	VirtualNodeSelectorValue = "virtual"

	lastAppliedConfigAnnotationKey  = "kubectl.kubernetes.io/last-applied-configuration"
	deploymentRevisionAnnotationKey = "deployment.kubernetes.io/revision"

	kubeAPIAccessVolumePrefix = "kube-api-access"
)

// Environment variables read by the driver and controller binaries.
const (
	CtrlNamespaceEnvVar  = "CTRL_NAMESPACE"
	DriverNameEnvVar     = "DRIVER_NAME"
	PodSvcAccountEnvVar  = "POD_SVC_ACCOUNT"
)

// Timing defaults, in seconds.
const (
	RetryDelaySeconds      = 5
	ErrorRetryDelaySeconds = 30
	DriverPausedWaitSeconds = 5
)

// SKLeaseName is the lease object name used to enforce a single active
// simulation per cluster.
const SKLeaseName = "sk-lease"
