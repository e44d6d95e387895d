package identity

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrNotFound reports that the named user or group does not exist.
	ErrNotFound = errors.New("identity not found")
	// ErrLookupFailed reports that the identity database could not be read.
	ErrLookupFailed = errors.New("identity lookup failed")
)

// User is a passwd entry reduced to what privilege handling needs.
type User struct {
	Name string
	UID  int
	GID  int
}

// Group is a group database entry.
type Group struct {
	Name string
	GID  int
}

// Database is the narrow lookup contract the resolver depends on.
// Implementations return an error wrapping ErrNotFound for unknown entries.
type Database interface {
	UserByName(name string) (User, error)
	UserByID(uid int) (User, error)
	GroupByName(name string) (Group, error)
	GroupByID(gid int) (Group, error)
	// GroupsOf lists the ids of every group that names u as a member.
	GroupsOf(u User) ([]int, error)
}

// Identity is a resolved target identity. UID and GID are -1 when unset.
type Identity struct {
	UID      int
	GID      int
	Groups   []int
	Username string
}

// None is the empty identity: nothing to drop.
func None() Identity {
	return Identity{UID: -1, GID: -1}
}

func (i Identity) HasUser() bool  { return i.UID >= 0 }
func (i Identity) HasGroup() bool { return i.GID >= 0 }
func (i Identity) IsZero() bool   { return !i.HasUser() && !i.HasGroup() }

func (i Identity) String() string {
	switch {
	case i.HasUser() && i.Username != "":
		return fmt.Sprintf("%s(%d):%d", i.Username, i.UID, i.GID)
	case i.HasUser():
		return fmt.Sprintf("%d:%d", i.UID, i.GID)
	case i.HasGroup():
		return fmt.Sprintf(":%d", i.GID)
	default:
		return "unchanged"
	}
}

// Resolver maps specs to identities.
type Resolver struct {
	db Database
}

// NewResolver returns a resolver backed by db, or by the host databases when
// db is nil.
func NewResolver(db Database) *Resolver {
	if db == nil {
		db = System{}
	}
	return &Resolver{db: db}
}

// Resolve resolves the user and group specs.
//
// With only a group, the user stays unset. With only a user, the user's
// primary group becomes the target group. With both, the explicit group is
// primary. Supplementary groups start with the primary gid followed by the
// user's memberships, without duplicates.
func (r *Resolver) Resolve(userSpec, groupSpec Spec) (Identity, error) {
	out := None()

	if groupSpec.IsSet() {
		group, err := r.lookupGroup(groupSpec)
		if err != nil {
			return None(), err
		}
		out.GID = group.GID
		out.Groups = []int{group.GID}
	}

	if !userSpec.IsSet() {
		return out, nil
	}

	u, err := r.lookupUser(userSpec)
	if err != nil {
		return None(), err
	}
	out.UID = u.UID
	out.Username = u.Name
	if !out.HasGroup() {
		out.GID = u.GID
	}

	memberships, err := r.db.GroupsOf(u)
	if err != nil {
		return None(), classify("groups of user", userSpec, err)
	}
	groups := make([]int, 0, len(memberships)+1)
	groups = append(groups, out.GID)
	for _, gid := range memberships {
		if !slices.Contains(groups, gid) {
			groups = append(groups, gid)
		}
	}
	out.Groups = groups
	return out, nil
}

func (r *Resolver) lookupUser(spec Spec) (User, error) {
	var (
		u   User
		err error
	)
	if id, ok := spec.Numeric(); ok {
		u, err = r.db.UserByID(id)
	} else {
		u, err = r.db.UserByName(spec.String())
	}
	if err != nil {
		return User{}, classify("user", spec, err)
	}
	return u, nil
}

func (r *Resolver) lookupGroup(spec Spec) (Group, error) {
	var (
		g   Group
		err error
	)
	if id, ok := spec.Numeric(); ok {
		g, err = r.db.GroupByID(id)
	} else {
		g, err = r.db.GroupByName(spec.String())
	}
	if err != nil {
		return Group{}, classify("group", spec, err)
	}
	return g, nil
}

func classify(what string, spec Spec, err error) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("lookup %s %s: %w", what, spec, err)
	}
	return fmt.Errorf("lookup %s %s: %w: %w", what, spec, ErrLookupFailed, err)
}
