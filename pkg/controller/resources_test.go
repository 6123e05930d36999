package controller

import (
	"testing"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	skv1 "github.com/acrlabs/simkube/api/v1"
	"github.com/acrlabs/simkube/pkg/kube"
)

func testSimulation() *skv1.Simulation {
	return &skv1.Simulation{
		ObjectMeta: metav1.ObjectMeta{Name: "sim-1"},
		Spec: skv1.SimulationSpec{
			Driver: skv1.SimulationDriverConfig{
				Namespace: "sk-system",
				Image:     "simkube/driver:latest",
				TracePath: "s3://bucket/trace.mp",
				Port:      8080,
				Speed:     1.0,
			},
		},
	}
}

func TestNewSimulationRootOwnedBySimulation(t *testing.T) {
	sim := testSimulation()
	root := newSimulationRoot(sim)

	if root.Name != rootName(sim) {
		t.Errorf("expected root name %q, got %q", rootName(sim), root.Name)
	}
	if len(root.OwnerReferences) != 1 {
		t.Fatalf("expected exactly one owner reference, got %d", len(root.OwnerReferences))
	}
	if root.OwnerReferences[0].Name != sim.Name || root.OwnerReferences[0].Kind != "Simulation" {
		t.Errorf("expected owner reference back to the simulation, got %+v", root.OwnerReferences[0])
	}
}

func TestNewDriverJobCarriesSimulationConfig(t *testing.T) {
	sim := testSimulation()
	root := newSimulationRoot(sim)
	job := newDriverJob(sim, root, "driver-sa")

	if job.Name != driverJobName(sim) {
		t.Errorf("expected job name %q, got %q", driverJobName(sim), job.Name)
	}
	if job.Namespace != sim.Spec.Driver.Namespace {
		t.Errorf("expected job namespace %q, got %q", sim.Spec.Driver.Namespace, job.Namespace)
	}
	if len(job.OwnerReferences) != 1 || job.OwnerReferences[0].Name != root.Name {
		t.Fatalf("expected job owned by the simulation root, got %+v", job.OwnerReferences)
	}
	if job.Spec.Template.Spec.ServiceAccountName != "driver-sa" {
		t.Errorf("expected pod service account driver-sa, got %q", job.Spec.Template.Spec.ServiceAccountName)
	}
	if got := job.Spec.Template.Labels[kube.SimulationLabelKey]; got != sim.Name {
		t.Errorf("expected simulation label %q, got %q", sim.Name, got)
	}
	container := job.Spec.Template.Spec.Containers[0]
	if container.Image != sim.Spec.Driver.Image {
		t.Errorf("expected driver image %q, got %q", sim.Spec.Driver.Image, container.Image)
	}
}
