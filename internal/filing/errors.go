package filing

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransient marks failures of the service or the network that a later
	// retry may resolve.
	ErrTransient = errors.New("transient filing failure")
	// ErrToolkit marks hard failures the service attributes to the submitted
	// data. Retrying the same data can never succeed.
	ErrToolkit = errors.New("toolkit error")
	// ErrConfiguration marks unusable adapter configuration.
	ErrConfiguration = errors.New("configuration error")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsToolkit reports whether err is a data-attributable toolkit failure.
func IsToolkit(err error) bool {
	return errors.Is(err, ErrToolkit)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "filing failure"
	}
	return strings.Join(parts, ": ")
}
