package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/acrlabs/simkube/pkg/kube"
)

func newLeaseTestClient(t *testing.T, objs ...client.Object) client.Client {
	t.Helper()
	scheme := runtime.NewScheme()
	if err := coordinationv1.AddToScheme(scheme); err != nil {
		t.Fatalf("registering scheme: %v", err)
	}
	return fake.NewClientBuilder().WithScheme(scheme).WithObjects(objs...).Build()
}

func TestAcquireLeaseCreatesWhenAbsent(t *testing.T) {
	c := newLeaseTestClient(t)
	now := time.Unix(1000, 0).UTC()

	if err := acquireLease(context.Background(), c, "sk-system", "sim-1", now); err != nil {
		t.Fatalf("acquireLease: %v", err)
	}

	lease := &coordinationv1.Lease{}
	if err := c.Get(context.Background(), client.ObjectKey{Namespace: "sk-system", Name: kube.SKLeaseName}, lease); err != nil {
		t.Fatalf("fetching created lease: %v", err)
	}
	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity != "sim-1" {
		t.Errorf("expected lease held by sim-1, got %+v", lease.Spec.HolderIdentity)
	}
}

func TestAcquireLeaseRenewsOwnLease(t *testing.T) {
	now := time.Unix(1000, 0).UTC()
	existing := newLease("sk-system", "sim-1", now)
	c := newLeaseTestClient(t, existing)

	later := now.Add(10 * time.Second)
	if err := acquireLease(context.Background(), c, "sk-system", "sim-1", later); err != nil {
		t.Fatalf("acquireLease: %v", err)
	}

	lease := &coordinationv1.Lease{}
	if err := c.Get(context.Background(), client.ObjectKey{Namespace: "sk-system", Name: kube.SKLeaseName}, lease); err != nil {
		t.Fatalf("fetching lease: %v", err)
	}
	if !lease.Spec.RenewTime.Time.Equal(later) {
		t.Errorf("expected renew time updated to %v, got %v", later, lease.Spec.RenewTime.Time)
	}
}

func TestAcquireLeaseFailsWhenHeldByAnother(t *testing.T) {
	now := time.Unix(1000, 0).UTC()
	existing := newLease("sk-system", "sim-1", now)
	c := newLeaseTestClient(t, existing)

	err := acquireLease(context.Background(), c, "sk-system", "sim-2", now)
	if !errors.Is(err, ErrLeaseHeldByOther) {
		t.Fatalf("expected ErrLeaseHeldByOther, got %v", err)
	}
}

func TestReleaseLeaseClearsOwnHolder(t *testing.T) {
	now := time.Unix(1000, 0).UTC()
	existing := newLease("sk-system", "sim-1", now)
	c := newLeaseTestClient(t, existing)

	if err := releaseLease(context.Background(), c, "sk-system", "sim-1"); err != nil {
		t.Fatalf("releaseLease: %v", err)
	}

	lease := &coordinationv1.Lease{}
	if err := c.Get(context.Background(), client.ObjectKey{Namespace: "sk-system", Name: kube.SKLeaseName}, lease); err != nil {
		t.Fatalf("fetching lease: %v", err)
	}
	if lease.Spec.HolderIdentity != nil {
		t.Errorf("expected holder identity cleared, got %v", *lease.Spec.HolderIdentity)
	}
}

func TestReleaseLeaseIgnoresDifferentHolder(t *testing.T) {
	now := time.Unix(1000, 0).UTC()
	existing := newLease("sk-system", "sim-1", now)
	c := newLeaseTestClient(t, existing)

	if err := releaseLease(context.Background(), c, "sk-system", "sim-2"); err != nil {
		t.Fatalf("releaseLease: %v", err)
	}

	lease := &coordinationv1.Lease{}
	if err := c.Get(context.Background(), client.ObjectKey{Namespace: "sk-system", Name: kube.SKLeaseName}, lease); err != nil {
		t.Fatalf("fetching lease: %v", err)
	}
	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity != "sim-1" {
		t.Errorf("expected sim-1's lease left untouched, got %+v", lease.Spec.HolderIdentity)
	}
}
