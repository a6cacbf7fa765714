package category

import "testing"

func TestValid(t *testing.T) {
	for _, id := range All() {
		if !Valid(id) {
			t.Errorf("expected %q to be valid", id)
		}
	}
	if Valid("sport") {
		t.Error("expected 'sport' to be rejected")
	}
}

func TestLabel(t *testing.T) {
	if got := Label(Sports); got != "Íþróttir" {
		t.Errorf("expected 'Íþróttir', got %q", got)
	}
	if got := Label("unknown"); got != "unknown" {
		t.Errorf("expected unknown id echoed back, got %q", got)
	}
}

func TestSort(t *testing.T) {
	ids := []ID{Unclassified, "bogus", Sports, Domestic}
	Sort(ids)
	want := []ID{Domestic, Sports, Unclassified, "bogus"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ids)
		}
	}
}

func TestAllEndsWithUnclassified(t *testing.T) {
	all := All()
	if all[len(all)-1] != Unclassified {
		t.Errorf("expected Unclassified last, got %q", all[len(all)-1])
	}
	all[0] = "mutated"
	if All()[0] != Domestic {
		t.Error("All must return a copy")
	}
}
