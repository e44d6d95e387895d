//go:build !linux

package daemon

import (
	"errors"
	"fmt"
)

func setProcName(name string) error {
	return fmt.Errorf("set process name %q: %w", name, errors.ErrUnsupported)
}
