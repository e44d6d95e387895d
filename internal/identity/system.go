package identity

import (
	"errors"
	"fmt"
	"os/user"
	"strconv"
)

// System reads the host passwd and group databases through os/user.
type System struct{}

func (System) UserByName(name string) (User, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return User{}, systemError(err)
	}
	return convertUser(u)
}

func (System) UserByID(uid int) (User, error) {
	u, err := user.LookupId(strconv.Itoa(uid))
	if err != nil {
		return User{}, systemError(err)
	}
	return convertUser(u)
}

func (System) GroupByName(name string) (Group, error) {
	g, err := user.LookupGroup(name)
	if err != nil {
		return Group{}, systemError(err)
	}
	return convertGroup(g)
}

func (System) GroupByID(gid int) (Group, error) {
	g, err := user.LookupGroupId(strconv.Itoa(gid))
	if err != nil {
		return Group{}, systemError(err)
	}
	return convertGroup(g)
}

func (System) GroupsOf(u User) ([]int, error) {
	entry := &user.User{Username: u.Name, Uid: strconv.Itoa(u.UID), Gid: strconv.Itoa(u.GID)}
	ids, err := entry.GroupIds()
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(ids))
	for _, raw := range ids {
		gid, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("parse group id %q: %w", raw, err)
		}
		out = append(out, gid)
	}
	return out, nil
}

func systemError(err error) error {
	var (
		unknownUser    user.UnknownUserError
		unknownUserID  user.UnknownUserIdError
		unknownGroup   user.UnknownGroupError
		unknownGroupID user.UnknownGroupIdError
	)
	if errors.As(err, &unknownUser) || errors.As(err, &unknownUserID) ||
		errors.As(err, &unknownGroup) || errors.As(err, &unknownGroupID) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}

func convertUser(u *user.User) (User, error) {
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return User{}, fmt.Errorf("parse uid %q: %w", u.Uid, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return User{}, fmt.Errorf("parse gid %q: %w", u.Gid, err)
	}
	return User{Name: u.Username, UID: uid, GID: gid}, nil
}

func convertGroup(g *user.Group) (Group, error) {
	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		return Group{}, fmt.Errorf("parse gid %q: %w", g.Gid, err)
	}
	return Group{Name: g.Name, GID: gid}, nil
}
