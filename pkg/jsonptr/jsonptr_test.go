package jsonptr

import "testing"

func podSpecFixture() map[string]interface{} {
	return map[string]interface{}{
		"spec": map[string]interface{}{
			"containers": []interface{}{
				map[string]interface{}{
					"name":  "main",
					"ports": []interface{}{map[string]interface{}{"containerPort": float64(8080)}},
				},
				map[string]interface{}{
					"name":  "sidecar",
					"ports": []interface{}{map[string]interface{}{"containerPort": float64(9090)}},
				},
			},
		},
	}
}

func TestRemoveWildcard(t *testing.T) {
	doc := podSpecFixture()
	if err := Remove(doc, "/spec/containers/*/", "ports"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	containers := doc["spec"].(map[string]interface{})["containers"].([]interface{})
	for _, c := range containers {
		if _, exists := c.(map[string]interface{})["ports"]; exists {
			t.Errorf("expected ports removed, found in %+v", c)
		}
	}
}

func TestAddWildcard(t *testing.T) {
	doc := podSpecFixture()
	if err := Add(doc, "/spec/containers/*/", "stableHash", "abc123", true); err != nil {
		t.Fatalf("Add: %v", err)
	}
	containers := doc["spec"].(map[string]interface{})["containers"].([]interface{})
	for _, c := range containers {
		if got := c.(map[string]interface{})["stableHash"]; got != "abc123" {
			t.Errorf("got %v, want abc123", got)
		}
	}
}

func TestAddNoOverwrite(t *testing.T) {
	doc := map[string]interface{}{"foo": "original"}
	if err := Add(doc, "", "foo", "new", false); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if doc["foo"] != "original" {
		t.Errorf("expected value preserved, got %v", doc["foo"])
	}
}

func TestAddArrayAppendAndInsert(t *testing.T) {
	doc := map[string]interface{}{"list": []interface{}{"a", "c"}}
	if err := Add(doc, "/list", "-", "z", true); err != nil {
		t.Fatalf("append: %v", err)
	}
	list := doc["list"].([]interface{})
	if len(list) != 3 || list[2] != "z" {
		t.Fatalf("unexpected list after append: %v", list)
	}
	if err := Add(doc, "/list", "1", "b", true); err != nil {
		t.Fatalf("insert: %v", err)
	}
	list = doc["list"].([]interface{})
	want := []interface{}{"a", "b", "c", "z"}
	if len(list) != len(want) {
		t.Fatalf("got %v, want %v", list, want)
	}
	for i := range want {
		if list[i] != want[i] {
			t.Fatalf("got %v, want %v", list, want)
		}
	}
}

func TestRemoveUnexpectedType(t *testing.T) {
	doc := map[string]interface{}{"list": []interface{}{"a", "b"}}
	if err := Remove(doc, "/list", "x"); err == nil {
		t.Error("expected error removing key from array target")
	}
}

func TestInvalidPointer(t *testing.T) {
	doc := map[string]interface{}{"foo": "bar"}
	if err := Remove(doc, "/missing", "x"); err == nil {
		t.Error("expected error for missing pointer")
	}
}

func TestGetSet(t *testing.T) {
	doc := map[string]interface{}{"a": map[string]interface{}{"b": "c"}}
	v, ok := Get(doc, "/a/b")
	if !ok || v != "c" {
		t.Fatalf("got %v, %v", v, ok)
	}
	if !Set(doc, "/a/b", "d") {
		t.Fatal("Set returned false")
	}
	if v, _ := Get(doc, "/a/b"); v != "d" {
		t.Fatalf("got %v, want d", v)
	}
}
