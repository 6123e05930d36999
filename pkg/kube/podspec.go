package kube

import (
	"strings"

	corev1 "k8s.io/api/core/v1"
)

// SanitizePodSpec returns a deep copy of spec with fields that vary by
// scheduling decision or replay environment removed: the assigned node, the
// resolved service account, any kube-api-access projected-token volume (and
// the matching mounts on every init and main container), and every main
// container's declared ports (stripped because the driver strips them again before replay; the
// pre-replay hash must agree with the hash recorded at trace time).
func SanitizePodSpec(spec *corev1.PodSpec) *corev1.PodSpec {
	out := spec.DeepCopy()

	out.NodeName = ""
	out.ServiceAccount = ""
	out.ServiceAccountName = ""
	out.Volumes = filterKubeAPIAccessVolumes(out.Volumes)

	for i := range out.InitContainers {
		out.InitContainers[i].VolumeMounts = filterKubeAPIAccessMounts(out.InitContainers[i].VolumeMounts)
	}
	for i := range out.Containers {
		out.Containers[i].VolumeMounts = filterKubeAPIAccessMounts(out.Containers[i].VolumeMounts)
		out.Containers[i].Ports = nil
	}

	return out
}

func filterKubeAPIAccessVolumes(vols []corev1.Volume) []corev1.Volume {
	out := make([]corev1.Volume, 0, len(vols))
	for _, v := range vols {
		if strings.HasPrefix(v.Name, kubeAPIAccessVolumePrefix) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func filterKubeAPIAccessMounts(mounts []corev1.VolumeMount) []corev1.VolumeMount {
	out := make([]corev1.VolumeMount, 0, len(mounts))
	for _, m := range mounts {
		if strings.HasPrefix(m.Name, kubeAPIAccessVolumePrefix) {
			continue
		}
		out = append(out, m)
	}
	return out
}
