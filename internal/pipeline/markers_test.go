package pipeline

import "testing"

func TestMarkerSet_RoundTrip(t *testing.T) {
	m := NewMarkerSet()

	if !m.Add("a") || !m.Add("b") {
		t.Fatal("Expected new labels to be added")
	}
	if m.Add("a") {
		t.Error("Expected duplicate label to be rejected")
	}
	if m.Len() != 2 {
		t.Errorf("Expected 2 labels, got %d", m.Len())
	}

	if !m.Remove("a") {
		t.Error("Expected first removal to succeed")
	}
	if m.Remove("a") {
		t.Error("Expected second removal of the same label to fail")
	}
	if labels := m.Labels(); len(labels) != 1 || labels[0] != "b" {
		t.Errorf("Expected [b], got %v", labels)
	}
}

func TestMarkerSet_Clear(t *testing.T) {
	m := NewMarkerSet()
	m.Add("a")
	m.Add("b")

	if n := m.Clear(); n != 2 {
		t.Errorf("Expected Clear to report 2, got %d", n)
	}
	if m.Len() != 0 {
		t.Errorf("Expected empty set, got %d", m.Len())
	}
	if m.Remove("a") {
		t.Error("Expected late acknowledgement to be ignored")
	}
}
