package gvk

import (
	"testing"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

func TestGVKRoundTrip(t *testing.T) {
	cases := []GVK{
		{Group: "apps", Version: "v1", Kind: "Deployment"},
		{Group: "", Version: "v1", Kind: "Pod"},
		{Group: "batch", Version: "v1", Kind: "Job"},
	}
	for _, g := range cases {
		s := g.String()
		got, err := ParseGVK(s)
		if err != nil {
			t.Fatalf("ParseGVK(%q): %v", s, err)
		}
		if got != g {
			t.Errorf("round trip mismatch: got %+v, want %+v", got, g)
		}
	}
}

func TestParseGVKMalformed(t *testing.T) {
	for _, s := range []string{"noslash", "group/noversiondot", "group/.kind", "group/version."} {
		if _, err := ParseGVK(s); err == nil {
			t.Errorf("ParseGVK(%q): expected error, got nil", s)
		}
	}
}

func TestNsNameRoundTrip(t *testing.T) {
	cases := []NsName{
		{Namespace: "default", Name: "foo"},
		{Namespace: "", Name: "cluster-scoped"},
	}
	for _, n := range cases {
		s := n.String()
		got, err := ParseNsName(s)
		if err != nil {
			t.Fatalf("ParseNsName(%q): %v", s, err)
		}
		if got != n {
			t.Errorf("round trip mismatch: got %+v, want %+v", got, n)
		}
	}
}

func TestFromOwnerReference(t *testing.T) {
	g, err := FromOwnerReference("apps/v1", "Deployment")
	if err != nil {
		t.Fatal(err)
	}
	want := GVK{Group: "apps", Version: "v1", Kind: "Deployment"}
	if g != want {
		t.Errorf("got %+v, want %+v", g, want)
	}

	g, err = FromOwnerReference("v1", "Pod")
	if err != nil {
		t.Fatal(err)
	}
	want = GVK{Group: "", Version: "v1", Kind: "Pod"}
	if g != want {
		t.Errorf("got %+v, want %+v", g, want)
	}

	if _, err := FromOwnerReference("v1", ""); err == nil {
		t.Error("expected error for missing kind")
	}
}

func TestAPIVersion(t *testing.T) {
	if got := (GVK{Group: "apps", Version: "v1"}).APIVersion(); got != "apps/v1" {
		t.Errorf("got %q, want apps/v1", got)
	}
	if got := (GVK{Group: "", Version: "v1"}).APIVersion(); got != "v1" {
		t.Errorf("got %q, want v1", got)
	}
}

func TestOfObject(t *testing.T) {
	u := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "apps/v1",
		"kind":       "Deployment",
		"metadata": map[string]interface{}{
			"namespace": "default",
			"name":      "my-deploy",
		},
	}}
	if got, want := OfObject(u), (NsName{Namespace: "default", Name: "my-deploy"}); got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if got, want := OfGVK(u), (GVK{Group: "apps", Version: "v1", Kind: "Deployment"}); got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}
