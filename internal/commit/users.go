package commit

import (
	"context"

	"github.com/pkgfs-project/pkgfsd/internal/packages"
	"github.com/pkgfs-project/pkgfsd/internal/sysuser"
	"github.com/pkgfs-project/pkgfsd/pkg/errclass"
)

// preparePackages creates users and groups and merges global writable
// files for every activated package.
func (h *Handler) preparePackages(ctx context.Context) error {
	for _, m := range h.added {
		info := m.pkg.Info()
		if err := h.addGroupsAndUsers(ctx, m.pkg.FileName(), info); err != nil {
			return err
		}
		if err := h.prepareWritableFiles(m.pkg); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) addGroupsAndUsers(ctx context.Context, pkgName string, info *packages.Info) error {
	users := h.deps.Users
	if users == nil {
		return nil
	}

	for _, g := range info.Groups {
		exists, err := users.GroupExists(g)
		if err != nil {
			return errclass.ErrFailedToAddGroup.WithPackage(pkgName).WithStrings(g).WithSystemError(err)
		}
		if exists {
			continue
		}
		if err := users.AddGroup(ctx, g); err != nil {
			return errclass.ErrFailedToAddGroup.WithPackage(pkgName).WithStrings(g).WithSystemError(err)
		}
		h.addedGroups = append(h.addedGroups, g)
	}

	for _, u := range info.Users {
		exists, err := users.UserExists(u.Name)
		if err != nil {
			return errclass.ErrFailedToAddUser.WithPackage(pkgName).WithStrings(u.Name).WithSystemError(err)
		}
		if !exists {
			su := sysuser.User{Name: u.Name, RealName: u.RealName, Home: u.Home, Shell: u.Shell}
			if err := users.AddUser(ctx, su); err != nil {
				return errclass.ErrFailedToAddUser.WithPackage(pkgName).WithStrings(u.Name).WithSystemError(err)
			}
			h.addedUsers = append(h.addedUsers, u.Name)
		}

		for _, g := range u.Groups {
			member, err := users.IsMember(u.Name, g)
			if err == nil && member {
				continue
			}
			if err := users.AddUserToGroup(ctx, u.Name, g); err != nil {
				return errclass.ErrFailedToAddUserToGroup.WithPackage(pkgName).WithStrings(u.Name, g).WithSystemError(err)
			}
			h.addedMemberships = append(h.addedMemberships, groupMembership{user: u.Name, group: g})
		}
	}
	return nil
}

// revertUsers removes the memberships, users and groups this handler
// added, newest first.
func (h *Handler) revertUsers() {
	users := h.deps.Users
	if users == nil {
		return
	}
	ctx := context.Background()
	for i := len(h.addedMemberships) - 1; i >= 0; i-- {
		m := h.addedMemberships[i]
		if err := users.RemoveUserFromGroup(ctx, m.user, m.group); err != nil {
			h.log.ErrorErr("failed to remove user from group", err, map[string]any{"user": m.user, "group": m.group})
		}
	}
	for i := len(h.addedUsers) - 1; i >= 0; i-- {
		if err := users.RemoveUser(ctx, h.addedUsers[i]); err != nil {
			h.log.ErrorErr("failed to remove user", err, map[string]any{"user": h.addedUsers[i]})
		}
	}
	for i := len(h.addedGroups) - 1; i >= 0; i-- {
		if err := users.RemoveGroup(ctx, h.addedGroups[i]); err != nil {
			h.log.ErrorErr("failed to remove group", err, map[string]any{"group": h.addedGroups[i]})
		}
	}
	h.addedMemberships = nil
	h.addedUsers = nil
	h.addedGroups = nil
}
