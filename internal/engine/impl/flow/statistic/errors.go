package statistic

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidAddress is returned when a flow key is built from an address that is neither IPv4 nor IPv6.
var ErrInvalidAddress = errors.New("invalid address")

func errMissing(object string, fields ...string) error {
	return fmt.Errorf("%s requires %s", object, strings.Join(fields, ", "))
}
