package controller

import (
	"context"

	skv1 "github.com/acrlabs/simkube/api/v1"
)

// Hooks runs the external hook programs named in a Simulation's spec at each
// state-machine transition. Shelling out to those programs is an external
// collaborator (spec.md §1 Non-goals); only the call sites and a no-op
// default live here, so the transition logic is exercised without the
// process-exec concern.
type Hooks interface {
	PreStart(ctx context.Context, sim *skv1.Simulation) error
	PreRun(ctx context.Context, sim *skv1.Simulation) error
	PostRun(ctx context.Context, sim *skv1.Simulation) error
	PostStop(ctx context.Context, sim *skv1.Simulation) error
}

// NoOpHooks runs nothing and never fails; it is the default when a
// Simulation's spec.hooks is unset.
type NoOpHooks struct{}

func (NoOpHooks) PreStart(context.Context, *skv1.Simulation) error { return nil }
func (NoOpHooks) PreRun(context.Context, *skv1.Simulation) error   { return nil }
func (NoOpHooks) PostRun(context.Context, *skv1.Simulation) error  { return nil }
func (NoOpHooks) PostStop(context.Context, *skv1.Simulation) error { return nil }
