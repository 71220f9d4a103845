package model

import "testing"

func TestTagSet_AddIsAppendOnly(t *testing.T) {
	ts := TagSet{}
	ts.Add("color", "red")
	ts.Add("color", "blue")
	if len(ts["color"]) != 2 {
		t.Fatalf("color = %v, want 2 values", ts["color"])
	}
}

func TestTagSet_CloneIsIndependent(t *testing.T) {
	ts := TagSet{"color": {"red"}}
	clone := ts.Clone()
	clone.Add("color", "blue")
	if len(ts["color"]) != 1 {
		t.Fatalf("original mutated via clone: %v", ts["color"])
	}
}

func TestTagSet_MergeCombinesWithoutMutatingEither(t *testing.T) {
	a := TagSet{"color": {"red"}}
	b := TagSet{"color": {"blue"}, "size": {"large"}}
	merged := a.Merge(b)

	if len(a["color"]) != 1 {
		t.Fatalf("a mutated by Merge: %v", a["color"])
	}
	if len(merged["color"]) != 2 {
		t.Fatalf("merged color = %v, want 2 values", merged["color"])
	}
	if merged.First("size") != "large" {
		t.Fatalf("merged size = %q, want large", merged.First("size"))
	}
}

func TestTagSet_HasAndFirst(t *testing.T) {
	ts := TagSet{"color": {"red", "blue"}}
	if !ts.Has("color", "blue") {
		t.Fatal("expected Has(color, blue) to be true")
	}
	if ts.Has("color", "green") {
		t.Fatal("expected Has(color, green) to be false")
	}
	if ts.First("color") != "red" {
		t.Fatalf("First(color) = %q, want red", ts.First("color"))
	}
	if ts.First("missing") != "" {
		t.Fatalf("First(missing) = %q, want empty string", ts.First("missing"))
	}
}

func TestNewTagSet_ParsesKeyValuePairs(t *testing.T) {
	ts := NewTagSet([]string{"color:red", "size:large", "novalue"})
	if ts.First("color") != "red" {
		t.Errorf("color = %q, want red", ts.First("color"))
	}
	if ts.First("size") != "large" {
		t.Errorf("size = %q, want large", ts.First("size"))
	}
	if ts.First("novalue") != "" {
		t.Errorf("novalue = %q, want empty", ts.First("novalue"))
	}
}

func TestTagFilterGroup_MatchesRequiresAllClauses(t *testing.T) {
	tags := TagSet{"color": {"red"}, "size": {"large"}}
	group := TagFilterGroup{"color": "red", "size": "large"}
	if !group.Matches(tags) {
		t.Fatal("expected a fully-satisfied group to match")
	}
	group["shape"] = "round"
	if group.Matches(tags) {
		t.Fatal("expected a group with an unsatisfied clause to not match")
	}
}

func TestMatchesAny_EmptyGroupsMatchesEverything(t *testing.T) {
	if !MatchesAny(nil, TagSet{}) {
		t.Fatal("an empty filter group list should match any tags")
	}
}

func TestMatchesAny_TrueWhenAnyGroupMatches(t *testing.T) {
	tags := TagSet{"color": {"red"}}
	groups := []TagFilterGroup{
		{"color": "blue"},
		{"color": "red"},
	}
	if !MatchesAny(groups, tags) {
		t.Fatal("expected at least one matching group to satisfy MatchesAny")
	}
}
