// Package gvk implements the object-identity primitives shared by every
// other package: a (group, version, kind) triple and a namespace/name pair,
// each with a canonical string serialization.
package gvk

import (
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// GVK identifies a Kubernetes object type. Its string form is "G/V.K"; for
// core-group types G is empty, producing "/V.K".
type GVK struct {
	Group   string
	Version string
	Kind    string
}

// String renders the canonical "group/version.kind" form.
func (g GVK) String() string {
	return fmt.Sprintf("%s/%s.%s", g.Group, g.Version, g.Kind)
}

// ParseGVK parses the canonical "group/version.kind" form produced by String.
func ParseGVK(s string) (GVK, error) {
	slash := strings.IndexByte(s, '/')
	if slash < 0 {
		return GVK{}, fmt.Errorf("gvk: malformed %q: missing '/'", s)
	}
	group, rest := s[:slash], s[slash+1:]
	dot := strings.LastIndexByte(rest, '.')
	if dot < 0 {
		return GVK{}, fmt.Errorf("gvk: malformed %q: missing '.'", s)
	}
	version, kind := rest[:dot], rest[dot+1:]
	if version == "" || kind == "" {
		return GVK{}, fmt.Errorf("gvk: malformed %q: empty version or kind", s)
	}
	return GVK{Group: group, Version: version, Kind: kind}, nil
}

// FromOwnerReference derives a GVK from an ownerReference's apiVersion/kind,
// splitting apiVersion on '/' the way Kubernetes does for grouped types.
func FromOwnerReference(apiVersion, kind string) (GVK, error) {
	if kind == "" {
		return GVK{}, fmt.Errorf("gvk: owner reference missing kind")
	}
	if apiVersion == "" {
		return GVK{}, fmt.Errorf("gvk: owner reference missing apiVersion")
	}
	parts := strings.SplitN(apiVersion, "/", 2)
	if len(parts) == 1 {
		return GVK{Group: "", Version: parts[0], Kind: kind}, nil
	}
	return GVK{Group: parts[0], Version: parts[1], Kind: kind}, nil
}

// APIVersion reconstructs the Kubernetes apiVersion string for this GVK.
func (g GVK) APIVersion() string {
	if g.Group == "" {
		return g.Version
	}
	return g.Group + "/" + g.Version
}

// NsName identifies an object within a single GVK. Its string form is
// "NS/NAME"; cluster-scoped objects have an empty namespace, giving "/NAME".
type NsName struct {
	Namespace string
	Name      string
}

func (n NsName) String() string {
	return fmt.Sprintf("%s/%s", n.Namespace, n.Name)
}

// ParseNsName parses the canonical "ns/name" form produced by String.
func ParseNsName(s string) (NsName, error) {
	slash := strings.IndexByte(s, '/')
	if slash < 0 {
		return NsName{}, fmt.Errorf("nsname: malformed %q: missing '/'", s)
	}
	ns, name := s[:slash], s[slash+1:]
	if name == "" {
		return NsName{}, fmt.Errorf("nsname: malformed %q: empty name", s)
	}
	return NsName{Namespace: ns, Name: name}, nil
}

// OfObject returns the NsName identifying u.
func OfObject(u *unstructured.Unstructured) NsName {
	return NsName{Namespace: u.GetNamespace(), Name: u.GetName()}
}

// OfGVK returns the GVK of u as declared in its TypeMeta.
func OfGVK(u *unstructured.Unstructured) GVK {
	agvk := u.GroupVersionKind()
	return GVK{Group: agvk.Group, Version: agvk.Version, Kind: agvk.Kind}
}
