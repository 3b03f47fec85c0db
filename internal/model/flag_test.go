package model

import (
	"encoding/json"
	"slices"
	"testing"
)

func TestFlagSet_CanonicalOrder(t *testing.T) {
	set := NewFlagSet(FlagURG, FlagSYN, FlagACK, FlagSYN, FlagFIN)

	want := []Flag{FlagACK, FlagFIN, FlagSYN, FlagURG}
	if got := set.Flags(); !slices.Equal(got, want) {
		t.Errorf("Expected flags %v, got %v", want, got)
	}
	if set.Len() != 4 {
		t.Errorf("Expected 4 flags, got %d", set.Len())
	}
	if !set.Has(FlagSYN) || set.Has(FlagRST) {
		t.Errorf("Unexpected membership in %s", set)
	}

	out, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("Failed to encode flag set: %v", err)
	}
	if string(out) != `["ACK","FIN","SYN","URG"]` {
		t.Errorf("Unexpected encoding %s", out)
	}
}

func TestFlagSet_JSON(t *testing.T) {
	var set FlagSet
	if err := json.Unmarshal([]byte(`["SYN","ACK","SYN"]`), &set); err != nil {
		t.Fatalf("Failed to decode flag set: %v", err)
	}
	if set != NewFlagSet(FlagACK, FlagSYN) {
		t.Errorf("Expected [ACK,SYN], got %s", set)
	}

	var empty FlagSet
	if err := json.Unmarshal([]byte(`[]`), &empty); err != nil || empty != 0 {
		t.Errorf("Expected an empty set, got %s (err %v)", empty, err)
	}
	out, _ := json.Marshal(empty)
	if string(out) != "[]" {
		t.Errorf("Expected an empty set to encode as [], got %s", out)
	}

	for _, bad := range []string{`["FOO"]`, `null`, `"ACK"`, `[1]`} {
		var s FlagSet
		if err := json.Unmarshal([]byte(bad), &s); err == nil {
			t.Errorf("Expected %s to be rejected", bad)
		}
	}
}

func TestParseFlag(t *testing.T) {
	for i, name := range []string{"ACK", "CWR", "ECE", "FIN", "NS", "PSH", "RST", "SYN", "URG"} {
		f, err := ParseFlag(name)
		if err != nil {
			t.Fatalf("Failed to parse %s: %v", name, err)
		}
		if f != Flag(i) || f.String() != name {
			t.Errorf("Expected %s at position %d, got %s (%d)", name, i, f, f)
		}
	}
	if _, err := ParseFlag("ack"); err == nil {
		t.Error("Expected flag names to be case sensitive")
	}
}
