package kube

import (
	"errors"
	"fmt"

	corev1 "k8s.io/api/core/v1"
)

// ErrFieldNotFound is returned when a required timestamp field is absent on
// a container state that claims to be running or terminated. Callers treat
// this as non-fatal: the triggering event is skipped and logged.
var ErrFieldNotFound = errors.New("kube: required field not found")

// ErrMalformedContainerState is returned when a container state reports
// more than one (or none) of running/terminated/waiting. Callers treat this
// as non-fatal: the pod is recorded as Empty.
var ErrMalformedContainerState = errors.New("kube: malformed container state")

// Phase is the tag of the PodLifecycleData union.
type Phase int

const (
	// PhaseEmpty means no lifecycle information has been observed yet.
	PhaseEmpty Phase = iota
	// PhaseRunning means the pod has started but not finished.
	PhaseRunning
	// PhaseFinished means the pod has both started and finished.
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseEmpty:
		return "Empty"
	case PhaseRunning:
		return "Running"
	case PhaseFinished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// PodLifecycleData is the tagged union Empty | Running(start) |
// Finished(start, end) described by the data model: a monotonic partial
// order where Empty < Running(t) < Finished(t, ·).
type PodLifecycleData struct {
	Phase Phase
	Start int64
	End   int64
}

// Empty is the zero-value lifecycle, returned by lookups that find nothing.
var Empty = PodLifecycleData{Phase: PhaseEmpty}

// Running constructs a Running(start) lifecycle value.
func Running(start int64) PodLifecycleData {
	return PodLifecycleData{Phase: PhaseRunning, Start: start}
}

// Finished constructs a Finished(start, end) lifecycle value.
func Finished(start, end int64) PodLifecycleData {
	return PodLifecycleData{Phase: PhaseFinished, Start: start, End: end}
}

// Advance returns next if it is strictly later in the Empty < Running <
// Finished partial order than prev, and prev otherwise. This is the
// monotonic merge rule record_pod_lifecycle applies at every update.
func Advance(prev, next PodLifecycleData) PodLifecycleData {
	if next.Phase > prev.Phase {
		return next
	}
	return prev
}

// DerivePodLifecycle inspects a pod's container statuses and produces the
// corresponding PodLifecycleData. Start is the minimum of every present
// start timestamp across init and main containers; End is the maximum
// finish timestamp across main containers, populated only if every main
// container has terminated. A pod with no status is Empty.
func DerivePodLifecycle(pod *corev1.Pod) (PodLifecycleData, error) {
	if len(pod.Status.InitContainerStatuses) == 0 && len(pod.Status.ContainerStatuses) == 0 {
		return Empty, nil
	}

	var start *int64
	for _, cs := range pod.Status.InitContainerStatuses {
		s, _, err := containerStartEnd(cs.State)
		if err != nil {
			return PodLifecycleData{}, err
		}
		start = minSome(start, s)
	}

	allTerminated := len(pod.Status.ContainerStatuses) > 0
	var end *int64
	for _, cs := range pod.Status.ContainerStatuses {
		s, e, err := containerStartEnd(cs.State)
		if err != nil {
			return PodLifecycleData{}, err
		}
		start = minSome(start, s)
		if cs.State.Terminated == nil {
			allTerminated = false
			continue
		}
		end = maxSome(end, e)
	}

	switch {
	case start == nil:
		return Empty, nil
	case allTerminated && end != nil:
		return Finished(*start, *end), nil
	default:
		return Running(*start), nil
	}
}

// containerStartEnd mirrors the upstream StartEndTimeable impl: a container
// state must have exactly one of running/terminated/waiting set.
func containerStartEnd(cs corev1.ContainerState) (start, end *int64, err error) {
	switch {
	case cs.Running != nil && cs.Terminated == nil && cs.Waiting == nil:
		if cs.Running.StartedAt.IsZero() {
			return nil, nil, fmt.Errorf("%w: started_at", ErrFieldNotFound)
		}
		ts := cs.Running.StartedAt.Unix()
		return &ts, nil, nil

	case cs.Running == nil && cs.Terminated != nil && cs.Waiting == nil:
		if cs.Terminated.StartedAt.IsZero() {
			return nil, nil, fmt.Errorf("%w: started_at", ErrFieldNotFound)
		}
		if cs.Terminated.FinishedAt.IsZero() {
			return nil, nil, fmt.Errorf("%w: finished_at", ErrFieldNotFound)
		}
		s, e := cs.Terminated.StartedAt.Unix(), cs.Terminated.FinishedAt.Unix()
		return &s, &e, nil

	case cs.Running == nil && cs.Terminated == nil && cs.Waiting != nil:
		return nil, nil, nil

	default:
		return nil, nil, fmt.Errorf("%w: %+v", ErrMalformedContainerState, cs)
	}
}

func minSome(a, b *int64) *int64 {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case *a <= *b:
		return a
	default:
		return b
	}
}

func maxSome(a, b *int64) *int64 {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case *a >= *b:
		return a
	default:
		return b
	}
}
