package browser

import (
	"errors"
	"fmt"
	"strings"
)

// DescribeError renders err as "<Type>: <message>, cause: <CauseType>" for
// log lines and result reasons.
func DescribeError(err error) string {
	if err == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(typeName(err))
	if msg := err.Error(); msg != "" {
		fmt.Fprintf(&b, ": %s", msg)
	}
	if cause := errors.Unwrap(err); cause != nil {
		fmt.Fprintf(&b, ", cause: %s", typeName(cause))
	}
	return b.String()
}

func typeName(v any) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", v), "*")
}
