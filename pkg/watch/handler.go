// Package watch implements the two concrete watchers that feed the trace
// store during recording: a generic watcher for any tracked GVK, and a
// pod-specific watcher that additionally resolves owner chains and derives
// pod lifecycle data.
package watch

import "k8s.io/utils/clock"

// Clock is the injection point for time every watcher here uses, aliased to
// the teacher's own clock-injection contract (k8s.io/utils/clock.
// PassiveClock) so production code takes clock.RealClock and tests take
// k8s.io/utils/clock/testing.NewFakeClock without this package needing its
// own parallel type.
type Clock = clock.PassiveClock
