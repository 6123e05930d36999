package controller

import (
	"context"
	"fmt"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/acrlabs/simkube/pkg/kube"
)

// leaseDurationSeconds is written into the Lease spec when the lease is
// created. The lease is acquired or renewed only from the Blocked state, and
// nothing checks it for expiry: a lease held by another simulation is
// refused however old its renew time is.
const leaseDurationSeconds = 30

// acquireLease ensures the cluster-wide simulation lease (spec.md §4.6: "at
// most one active simulation per cluster") is held by simName, creating it
// if absent and renewing it if already held by simName. If it's held by a
// different simulation, ErrLeaseHeldByOther is returned so the caller can
// transition back to Blocked instead of stealing it.
func acquireLease(ctx context.Context, c client.Client, namespace, simName string, now time.Time) error {
	lease := &coordinationv1.Lease{}
	key := client.ObjectKey{Namespace: namespace, Name: kube.SKLeaseName}

	err := c.Get(ctx, key, lease)
	if apierrors.IsNotFound(err) {
		created := newLease(namespace, simName, now)
		if createErr := c.Create(ctx, created); createErr != nil {
			if apierrors.IsAlreadyExists(createErr) {
				return acquireLease(ctx, c, namespace, simName, now)
			}
			return fmt.Errorf("controller: creating simulation lease: %w", createErr)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("controller: fetching simulation lease: %w", err)
	}

	if lease.Spec.HolderIdentity != nil && *lease.Spec.HolderIdentity != simName {
		return ErrLeaseHeldByOther
	}

	renewed := lease.DeepCopy()
	holder := simName
	renewed.Spec.HolderIdentity = &holder
	renewTime := metav1.NewMicroTime(now)
	renewed.Spec.RenewTime = &renewTime
	if err := c.Update(ctx, renewed); err != nil {
		return fmt.Errorf("controller: renewing simulation lease: %w", err)
	}
	return nil
}

func newLease(namespace, simName string, now time.Time) *coordinationv1.Lease {
	holder := simName
	duration := int32(leaseDurationSeconds)
	acquire := metav1.NewMicroTime(now)
	renew := metav1.NewMicroTime(now)
	return &coordinationv1.Lease{
		ObjectMeta: metav1.ObjectMeta{Name: kube.SKLeaseName, Namespace: namespace},
		Spec: coordinationv1.LeaseSpec{
			HolderIdentity:       &holder,
			LeaseDurationSeconds: &duration,
			AcquireTime:          &acquire,
			RenewTime:            &renew,
		},
	}
}

// releaseLease clears the lease's holder identity if simName currently
// holds it, letting the next Blocked simulation acquire it. A missing lease
// or one held by somebody else is not an error — there's nothing for this
// simulation to release.
func releaseLease(ctx context.Context, c client.Client, namespace, simName string) error {
	lease := &coordinationv1.Lease{}
	key := client.ObjectKey{Namespace: namespace, Name: kube.SKLeaseName}
	if err := c.Get(ctx, key, lease); err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("controller: fetching simulation lease: %w", err)
	}
	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity != simName {
		return nil
	}

	lease.Spec.HolderIdentity = nil
	if err := c.Update(ctx, lease); err != nil {
		return fmt.Errorf("controller: releasing simulation lease: %w", err)
	}
	return nil
}
