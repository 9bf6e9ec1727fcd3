package core

import "testing"

func TestMergeVariables_OverrideWins(t *testing.T) {
	base := map[string]any{"a": 1, "b": "orig"}
	overrides := map[string]any{"b": "new", "c": true}

	got := MergeVariables(base, overrides)

	want := map[string]any{"a": 1, "b": "new", "c": true}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("got[%q] = %v, want %v", k, got[k], v)
		}
	}
}

func TestMergeVariables_DoesNotMutateInputs(t *testing.T) {
	base := map[string]any{"nested": map[string]any{"x": 1}}
	overrides := map[string]any{"y": 2}

	got := MergeVariables(base, overrides)
	got["nested"].(map[string]any)["x"] = 100
	got["z"] = 3

	if base["nested"].(map[string]any)["x"] != 1 {
		t.Error("MergeVariables() result aliases the base map")
	}
	if len(base) != 1 || len(overrides) != 1 {
		t.Error("MergeVariables() modified an input")
	}
}

func TestMergeVariables_NilInputs(t *testing.T) {
	got := MergeVariables(nil, nil)
	if got == nil {
		t.Fatal("MergeVariables(nil, nil) = nil, want empty map")
	}
	if len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}

	got = MergeVariables(map[string]any{"a": 1}, nil)
	if got["a"] != 1 {
		t.Errorf("got[a] = %v, want 1", got["a"])
	}
}

func TestCloneVariables(t *testing.T) {
	if CloneVariables(nil) != nil {
		t.Error("CloneVariables(nil) should be nil")
	}
	src := map[string]any{"raw": []byte("abc")}
	cp := CloneVariables(src)
	cp["raw"].([]byte)[0] = 'z'
	if string(src["raw"].([]byte)) != "abc" {
		t.Error("CloneVariables() shares byte slices")
	}
}
