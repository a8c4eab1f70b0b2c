// Package sysuser creates the system users and groups packages declare.
package sysuser

import (
	"context"
	"errors"
	"fmt"
	"os/user"
	"slices"
	"sync"

	"github.com/pkgfs-project/pkgfsd/internal/proc"
)

// User is a system user to create.
type User struct {
	Name     string
	RealName string
	Home     string
	Shell    string
}

// Manager inspects and changes the system user database.
type Manager interface {
	GroupExists(name string) (bool, error)
	UserExists(name string) (bool, error)
	IsMember(userName, group string) (bool, error)

	AddGroup(ctx context.Context, name string) error
	AddUser(ctx context.Context, u User) error
	AddUserToGroup(ctx context.Context, userName, group string) error

	RemoveGroup(ctx context.Context, name string) error
	RemoveUser(ctx context.Context, name string) error
	RemoveUserFromGroup(ctx context.Context, userName, group string) error
}

// ToolManager drives groupadd, useradd and friends through a launcher.
type ToolManager struct {
	Launcher proc.Launcher
}

func (m ToolManager) GroupExists(name string) (bool, error) {
	_, err := user.LookupGroup(name)
	var unknown user.UnknownGroupError
	if errors.As(err, &unknown) {
		return false, nil
	}
	return err == nil, err
}

func (m ToolManager) UserExists(name string) (bool, error) {
	_, err := user.Lookup(name)
	var unknown user.UnknownUserError
	if errors.As(err, &unknown) {
		return false, nil
	}
	return err == nil, err
}

func (m ToolManager) IsMember(userName, group string) (bool, error) {
	u, err := user.Lookup(userName)
	if err != nil {
		return false, err
	}
	g, err := user.LookupGroup(group)
	if err != nil {
		return false, err
	}
	ids, err := u.GroupIds()
	if err != nil {
		return false, err
	}
	return slices.Contains(ids, g.Gid), nil
}

func (m ToolManager) run(ctx context.Context, path string, args ...string) error {
	code, err := m.Launcher.Run(ctx, proc.Command{Path: path, Args: args})
	if err != nil {
		return err
	}
	if code != 0 {
		return &ExitError{Command: path, Code: code}
	}
	return nil
}

func (m ToolManager) AddGroup(ctx context.Context, name string) error {
	return m.run(ctx, "groupadd", "--system", name)
}

func (m ToolManager) AddUser(ctx context.Context, u User) error {
	args := []string{"--system"}
	if u.RealName != "" {
		args = append(args, "--comment", u.RealName)
	}
	if u.Home != "" {
		args = append(args, "--home-dir", u.Home)
	}
	if u.Shell != "" {
		args = append(args, "--shell", u.Shell)
	}
	return m.run(ctx, "useradd", append(args, u.Name)...)
}

func (m ToolManager) AddUserToGroup(ctx context.Context, userName, group string) error {
	return m.run(ctx, "usermod", "--append", "--groups", group, userName)
}

func (m ToolManager) RemoveGroup(ctx context.Context, name string) error {
	return m.run(ctx, "groupdel", name)
}

func (m ToolManager) RemoveUser(ctx context.Context, name string) error {
	return m.run(ctx, "userdel", name)
}

func (m ToolManager) RemoveUserFromGroup(ctx context.Context, userName, group string) error {
	return m.run(ctx, "gpasswd", "--delete", userName, group)
}

// ExitError reports a user management tool that exited non-zero.
type ExitError struct {
	Command string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Command, e.Code)
}

// MemoryManager is an in-memory user database.
type MemoryManager struct {
	mu      sync.Mutex
	groups  map[string]bool
	users   map[string]User
	members map[string]map[string]bool

	// FailAddUser makes AddUser fail for the named user.
	FailAddUser string
}

// NewMemoryManager creates an empty MemoryManager.
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{
		groups:  make(map[string]bool),
		users:   make(map[string]User),
		members: make(map[string]map[string]bool),
	}
}

func (m *MemoryManager) GroupExists(name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.groups[name], nil
}

func (m *MemoryManager) UserExists(name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.users[name]
	return ok, nil
}

func (m *MemoryManager) IsMember(userName, group string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.members[userName][group], nil
}

func (m *MemoryManager) AddGroup(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.groups[name] {
		return fmt.Errorf("group %s exists", name)
	}
	m.groups[name] = true
	return nil
}

func (m *MemoryManager) AddUser(_ context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.Name == m.FailAddUser {
		return &ExitError{Command: "useradd", Code: 9}
	}
	if _, ok := m.users[u.Name]; ok {
		return fmt.Errorf("user %s exists", u.Name)
	}
	m.users[u.Name] = u
	return nil
}

func (m *MemoryManager) AddUserToGroup(_ context.Context, userName, group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.groups[group] {
		return fmt.Errorf("no group %s", group)
	}
	if m.members[userName] == nil {
		m.members[userName] = make(map[string]bool)
	}
	m.members[userName][group] = true
	return nil
}

func (m *MemoryManager) RemoveGroup(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.groups, name)
	return nil
}

func (m *MemoryManager) RemoveUser(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, name)
	delete(m.members, name)
	return nil
}

func (m *MemoryManager) RemoveUserFromGroup(_ context.Context, userName, group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members[userName], group)
	return nil
}
