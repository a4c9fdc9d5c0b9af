package types

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidPermissionType = errors.New("invalid permission type")
	ErrInvalidTeamID         = errors.New("invalid team id")
)

// PermissionType is the access level of a permission grant or request.
// Types are bit flags: ALL grants both READ and WRITE.
type PermissionType uint8

const (
	PermissionRead PermissionType = 1 << iota
	PermissionWrite
	PermissionAll = PermissionRead | PermissionWrite
)

// Satisfies reports whether a grant of type t covers a request of type req.
func (t PermissionType) Satisfies(req PermissionType) bool {
	if req == 0 {
		return false
	}
	return t&req == req
}

func (t PermissionType) Valid() bool {
	return t == PermissionRead || t == PermissionWrite || t == PermissionAll
}

func (t PermissionType) String() string {
	switch t {
	case PermissionRead:
		return "read"
	case PermissionWrite:
		return "write"
	case PermissionAll:
		return "all"
	}
	return "unknown(" + strconv.Itoa(int(t)) + ")"
}

// ParsePermissionType accepts the names returned by PermissionType.String
// as well as their numeric values.
func ParsePermissionType(s string) (PermissionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "read", "1":
		return PermissionRead, nil
	case "write", "2":
		return PermissionWrite, nil
	case "all", "3":
		return PermissionAll, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidPermissionType, s)
}

// TeamID identifies the team a permission check is scoped to.
type TeamID int64

func (t TeamID) String() string {
	return strconv.FormatInt(int64(t), 10)
}

// ParseTeamID parses an optional team scope. An empty string means no scope.
func ParseTeamID(s string) (*TeamID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTeamID, s)
	}
	id := TeamID(v)
	return &id, nil
}

// Actor is the authenticated principal a permission check runs against.
type Actor interface {
	// GetSubject returns a stable identifier of the actor, ex: "user:42".
	GetSubject() string

	// HasPermission reports whether the actor holds a grant of at least typ on key.
	// A nil team matches grants of any team.
	HasPermission(ctx context.Context, key string, typ PermissionType, team *TeamID) (bool, error)
}

type PermissionChecker interface {
	// CheckPermission checks whether the actor in ctx may access key with the given type.
	CheckPermission(ctx context.Context, key string, typ PermissionType, team *TeamID) (bool, error)
}

// A simple checker that always returns the same value
func FixedChecker(allowed bool) PermissionChecker {
	return &fixedChecker{allowed}
}

type fixedChecker struct {
	allowed bool
}

func (f *fixedChecker) CheckPermission(ctx context.Context, key string, typ PermissionType, team *TeamID) (bool, error) {
	if !typ.Valid() {
		return false, fmt.Errorf("%w: %d", ErrInvalidPermissionType, typ)
	}
	return f.allowed, nil
}

// Permission is a registered, gated capability.
type Permission struct {
	ID string
	// Key identifies the capability, usually derived from the component it gates. Ex: "TeamMembersTable"
	Key  string
	Name string
}
