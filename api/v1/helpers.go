package v1

const (
	DefaultMetricsNamespace      = "monitoring"
	DefaultMetricsServiceAccount = "prometheus-k8s"
)

// MetricsNamespace returns the namespace metrics resources should land in,
// falling back to the cluster-wide default.
func (s *Simulation) MetricsNamespace() string {
	if s.Spec.Metrics != nil && s.Spec.Metrics.Namespace != nil {
		return *s.Spec.Metrics.Namespace
	}
	return DefaultMetricsNamespace
}

// MetricsServiceAccount returns the service account metrics resources
// should run as, falling back to the cluster-wide default.
func (s *Simulation) MetricsServiceAccount() string {
	if s.Spec.Metrics != nil && s.Spec.Metrics.ServiceAccount != nil {
		return *s.Spec.Metrics.ServiceAccount
	}
	return DefaultMetricsServiceAccount
}

// IsTerminal reports whether the simulation has reached a state the
// reconciler will never leave.
func (s *Simulation) IsTerminal() bool {
	return s.Status.State.IsTerminal()
}
