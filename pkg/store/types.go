// Package store implements the in-memory, time-ordered trace store: the
// append-only event log, the per-GVK hash index used for change detection,
// and the pod-owners map recording pod lifecycle history.
package store

import "github.com/acrlabs/simkube/pkg/gvk"

// TrackedObjectConfig describes how one tracked GVK should be recorded: the
// set of JSON pointers locating pod-spec templates inside the object (used
// by callers that need to reach into, e.g., a Deployment's
// spec.template.spec), and whether pod lifecycles owned by this GVK should
// be tracked at all.
type TrackedObjectConfig struct {
	PodSpecTemplatePaths []string `json:"podSpecTemplatePaths" yaml:"podSpecTemplatePaths"`
	TrackLifecycle       bool     `json:"trackLifecycle" yaml:"trackLifecycle"`
}

// TracerConfig maps every tracked GVK to its TrackedObjectConfig.
type TracerConfig map[gvk.GVK]TrackedObjectConfig
