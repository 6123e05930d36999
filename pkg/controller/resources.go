package controller

import (
	"fmt"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	skv1 "github.com/acrlabs/simkube/api/v1"
	"github.com/acrlabs/simkube/pkg/kube"
)

// Derived resource names follow the original implementation's
// "sk-<name>-<role>" convention (sk-ctrl/src/context.rs).

func rootName(sim *skv1.Simulation) string {
	return fmt.Sprintf("sk-%s-metaroot", sim.Name)
}

func driverJobName(sim *skv1.Simulation) string {
	return fmt.Sprintf("sk-%s-driver", sim.Name)
}

// newSimulationRoot builds the SimulationRoot every other owned resource
// for this Simulation is parented to, so deleting it cascades via owner-
// reference garbage collection.
func newSimulationRoot(sim *skv1.Simulation) *skv1.SimulationRoot {
	return &skv1.SimulationRoot{
		ObjectMeta: metav1.ObjectMeta{
			Name:            rootName(sim),
			OwnerReferences: []metav1.OwnerReference{ownerRef(sim)},
		},
	}
}

// newDriverJob builds the Job that runs the driver binary against the
// simulation's configured trace, speed, and target namespace.
func newDriverJob(sim *skv1.Simulation, root *skv1.SimulationRoot, podSvcAccount string) *batchv1.Job {
	backoffLimit := int32(0)
	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:            driverJobName(sim),
			Namespace:       sim.Spec.Driver.Namespace,
			OwnerReferences: []metav1.OwnerReference{rootOwnerRef(root)},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoffLimit,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: map[string]string{kube.SimulationLabelKey: sim.Name},
				},
				Spec: corev1.PodSpec{
					ServiceAccountName: podSvcAccount,
					RestartPolicy:      corev1.RestartPolicyNever,
					Containers: []corev1.Container{
						{
							Name:  "driver",
							Image: sim.Spec.Driver.Image,
							Args: []string{
								fmt.Sprintf("--trace-path=%s", sim.Spec.Driver.TracePath),
								fmt.Sprintf("--speed=%f", sim.Spec.Driver.Speed),
								fmt.Sprintf("--sim-name=%s", sim.Name),
								fmt.Sprintf("--sim-root-name=%s", root.Name),
							},
							Ports: []corev1.ContainerPort{{ContainerPort: sim.Spec.Driver.Port}},
						},
					},
				},
			},
		},
	}
}

func ownerRef(sim *skv1.Simulation) metav1.OwnerReference {
	controller := true
	blockOwnerDeletion := true
	return metav1.OwnerReference{
		APIVersion:         skv1.GroupVersion.String(),
		Kind:               "Simulation",
		Name:               sim.Name,
		UID:                sim.UID,
		Controller:         &controller,
		BlockOwnerDeletion: &blockOwnerDeletion,
	}
}

func rootOwnerRef(root *skv1.SimulationRoot) metav1.OwnerReference {
	controller := true
	blockOwnerDeletion := true
	return metav1.OwnerReference{
		APIVersion:         skv1.GroupVersion.String(),
		Kind:               "SimulationRoot",
		Name:               root.Name,
		UID:                root.UID,
		Controller:         &controller,
		BlockOwnerDeletion: &blockOwnerDeletion,
	}
}
