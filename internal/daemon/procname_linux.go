//go:build linux

package daemon

import (
	"fmt"
	"os"
	"unicode/utf8"
)

// The kernel keeps at most 15 bytes of a task name.
const maxProcNameLen = 15

func setProcName(name string) error {
	name = truncateProcName(name)
	if err := os.WriteFile("/proc/self/comm", []byte(name), 0); err != nil {
		return fmt.Errorf("set process name %q: %w", name, err)
	}
	return nil
}

// truncateProcName cuts name to the kernel limit without splitting a rune.
func truncateProcName(name string) string {
	if len(name) <= maxProcNameLen {
		return name
	}
	n := maxProcNameLen
	for n > 0 && !utf8.RuneStart(name[n]) {
		n--
	}
	return name[:n]
}
