// Package privilege lowers the identity of the running process.
//
// Drop is the only entry point so supplementary groups, the primary group and
// the user id are always applied in that order. Once the uid changes the
// process can no longer alter its groups.
package privilege

import (
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"

	"daemonize/internal/identity"
	"daemonize/internal/logging"
)

var (
	// ErrGroupDrop covers setgroups and setgid failures; the uid is untouched.
	ErrGroupDrop = errors.New("group privilege drop failed")
	ErrUserDrop  = errors.New("user privilege drop failed")
)

type syscalls interface {
	Getuid() int
	Getgid() int
	Setgroups(gids []int) error
	Setgid(gid int) error
	Setuid(uid int) error
}

type unixSyscalls struct{}

func (unixSyscalls) Getuid() int                { return unix.Getuid() }
func (unixSyscalls) Getgid() int                { return unix.Getgid() }
func (unixSyscalls) Setgroups(gids []int) error { return unix.Setgroups(gids) }
func (unixSyscalls) Setgid(gid int) error       { return unix.Setgid(gid) }
func (unixSyscalls) Setuid(uid int) error       { return unix.Setuid(uid) }

// Dropper applies a resolved identity to the current process.
type Dropper struct {
	sys    syscalls
	logger *slog.Logger
}

func New(logger *slog.Logger) *Dropper {
	return &Dropper{sys: unixSyscalls{}, logger: logging.NewComponentLogger(logger, "privilege")}
}

// Drop applies id. Unset parts of id are skipped. An unprivileged process
// asked to keep its current ids does nothing, since setgroups would fail.
func (d *Dropper) Drop(id identity.Identity) error {
	if id.IsZero() {
		return nil
	}
	root := d.sys.Getuid() == 0

	if id.HasGroup() {
		if root || id.GID != d.sys.Getgid() {
			groups := id.Groups
			if len(groups) == 0 {
				groups = []int{id.GID}
			}
			if err := d.sys.Setgroups(groups); err != nil {
				return fmt.Errorf("setgroups %v: %w: %w", groups, ErrGroupDrop, err)
			}
			if err := d.sys.Setgid(id.GID); err != nil {
				return fmt.Errorf("setgid %d: %w: %w", id.GID, ErrGroupDrop, err)
			}
			d.logger.Debug("group identity applied", logging.Int("gid", id.GID), logging.Any("groups", groups))
		}
	}

	if id.HasUser() {
		if root || id.UID != d.sys.Getuid() {
			if err := d.sys.Setuid(id.UID); err != nil {
				return fmt.Errorf("setuid %d: %w: %w", id.UID, ErrUserDrop, err)
			}
			d.logger.Debug("user identity applied", logging.Int("uid", id.UID))
		}
	}
	return nil
}
