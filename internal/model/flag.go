package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Flag is a TCP control flag.
// The declaration order is the canonical iteration and encoding order.
type Flag uint8

const (
	FlagACK Flag = iota
	FlagCWR
	FlagECE
	FlagFIN
	FlagNS
	FlagPSH
	FlagRST
	FlagSYN
	FlagURG

	numFlags = int(FlagURG) + 1
)

var flagNames = [numFlags]string{"ACK", "CWR", "ECE", "FIN", "NS", "PSH", "RST", "SYN", "URG"}

// String returns the flag name as it appears in the persisted state.
func (f Flag) String() string {
	if int(f) < numFlags {
		return flagNames[f]
	}
	return fmt.Sprintf("Flag(%d)", uint8(f))
}

// ParseFlag maps a flag name back to its Flag.
func ParseFlag(name string) (Flag, error) {
	for i, n := range flagNames {
		if n == name {
			return Flag(i), nil
		}
	}
	return 0, fmt.Errorf("unknown tcp flag %q", name)
}

// FlagSet is a set of TCP flags. The zero value is the empty set.
type FlagSet uint16

// NewFlagSet builds a set from flags given in any order.
func NewFlagSet(flags ...Flag) FlagSet {
	var s FlagSet
	for _, f := range flags {
		s = s.With(f)
	}
	return s
}

// With returns the set with f added.
func (s FlagSet) With(f Flag) FlagSet {
	return s | 1<<f
}

// Has reports whether f is in the set.
func (s FlagSet) Has(f Flag) bool {
	return s&(1<<f) != 0
}

// Len returns the number of flags in the set.
func (s FlagSet) Len() int {
	n := 0
	for i := 0; i < numFlags; i++ {
		if s.Has(Flag(i)) {
			n++
		}
	}
	return n
}

// Flags lists the members in canonical order.
func (s FlagSet) Flags() []Flag {
	flags := make([]Flag, 0, s.Len())
	for i := 0; i < numFlags; i++ {
		if s.Has(Flag(i)) {
			flags = append(flags, Flag(i))
		}
	}
	return flags
}

func (s FlagSet) String() string {
	names := make([]string, 0, numFlags)
	for _, f := range s.Flags() {
		names = append(names, f.String())
	}
	return "[" + strings.Join(names, ",") + "]"
}

// MarshalJSON encodes the set as an array of names in canonical order.
func (s FlagSet) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, numFlags)
	for _, f := range s.Flags() {
		names = append(names, f.String())
	}
	return json.Marshal(names)
}

// UnmarshalJSON accepts an array of flag names. Repeated names collapse into one member.
func (s *FlagSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	if names == nil {
		return fmt.Errorf("flag_list must be an array")
	}
	var set FlagSet
	for _, name := range names {
		f, err := ParseFlag(name)
		if err != nil {
			return err
		}
		set = set.With(f)
	}
	*s = set
	return nil
}
