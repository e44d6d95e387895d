//go:build linux

package stdio

import "golang.org/x/sys/unix"

func dup(oldfd, newfd int) error {
	if oldfd == newfd {
		return nil
	}
	return unix.Dup3(oldfd, newfd, 0)
}
