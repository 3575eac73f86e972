package model

import "testing"

func TestPatchGraph_HasPath(t *testing.T) {
	patches := []Patch{
		{BuildFrom: 1, BuildTo: 2, Locale: "enUS", Platform: "x86", OS: "Win"},
		{BuildFrom: 2, BuildTo: 3, Locale: "enUS", Platform: "x86", OS: "Win"},
	}
	g := NewPatchGraph(patches)
	supported := map[int]bool{3: true}

	if !g.HasPath(1, supported, "enUS", "x86", "Win") {
		t.Fatal("expected a path from build 1 to the supported build 3")
	}
	if g.HasPath(1, supported, "enUS", "x86", "Mac") {
		t.Fatal("did not expect a path for a platform with no edges")
	}
}

func TestPatchGraph_AlreadySupportedHasNoNextPatch(t *testing.T) {
	g := NewPatchGraph(nil)
	supported := map[int]bool{5: true}
	_, ok := g.NextPatch(5, supported, "enUS", "x86", "Win")
	if ok {
		t.Fatal("expected no next patch when the client build is already supported")
	}
}

func TestPatchGraph_NextPatchPicksMatchingEdge(t *testing.T) {
	patches := []Patch{
		{BuildFrom: 1, BuildTo: 2, Locale: "enUS", Platform: "x86", OS: "Win", Path: "1-2-enUS.patch"},
		{BuildFrom: 1, BuildTo: 2, Locale: "deDE", Platform: "x86", OS: "Win", Path: "1-2-deDE.patch"},
	}
	g := NewPatchGraph(patches)

	p, ok := g.NextPatch(1, map[int]bool{2: true}, "deDE", "x86", "Win")
	if !ok {
		t.Fatal("expected a matching patch for deDE")
	}
	if p.Path != "1-2-deDE.patch" {
		t.Fatalf("picked patch %q, want the deDE one", p.Path)
	}
}
