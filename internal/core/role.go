package core

import (
	"fmt"
	"strings"
)

// Role is the function a payee performs in a period.
type Role int

const (
	RoleSales Role = iota + 1
	RoleSetter
	RoleCaller
	RoleTeamLeader
	RoleCopywriter
)

var roleNames = map[Role]string{
	RoleSales:      "Sales",
	RoleSetter:     "Setter",
	RoleCaller:     "Caller",
	RoleTeamLeader: "TeamLeader",
	RoleCopywriter: "Copywriter",
}

// Aliases seen in the record store, folded to lower case without spaces.
var roleAliases = map[string]Role{
	"sales":      RoleSales,
	"sale":       RoleSales,
	"vanzari":    RoleSales,
	"agent":      RoleSales,
	"setter":     RoleSetter,
	"caller":     RoleCaller,
	"teamleader": RoleTeamLeader,
	"tl":         RoleTeamLeader,
	"copywriter": RoleCopywriter,
	"copy":       RoleCopywriter,
}

// AllRoles lists every role.
func AllRoles() []Role {
	return []Role{RoleSales, RoleSetter, RoleCaller, RoleTeamLeader, RoleCopywriter}
}

func (r Role) String() string {
	if n, ok := roleNames[r]; ok {
		return n
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// Valid reports whether r is one of the declared roles.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// ParseRole parses a single role name.
func ParseRole(s string) (Role, error) {
	k := strings.ToLower(strings.Join(strings.Fields(foldASCII(s)), ""))
	k = strings.ReplaceAll(strings.ReplaceAll(k, "-", ""), "_", "")
	if r, ok := roleAliases[k]; ok {
		return r, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// ParseRoles normalises the role field of a record. The record store
// returns it either as a single string, a comma separated string, or a
// list of strings; everything past this function sees []Role only.
func ParseRoles(raw any) ([]Role, error) {
	var parts []string
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case Role:
		parts = []string{v.String()}
	case []Role:
		return dedupeRoles(v), nil
	case string:
		parts = strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ';' || r == '/' })
	case []string:
		parts = v
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: unexpected element %T", ErrUnknownRole, item)
			}
			parts = append(parts, s)
		}
	default:
		return nil, fmt.Errorf("%w: unexpected shape %T", ErrUnknownRole, raw)
	}

	roles := make([]Role, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		r, err := ParseRole(p)
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return dedupeRoles(roles), nil
}

func dedupeRoles(in []Role) []Role {
	seen := make(map[Role]struct{}, len(in))
	out := make([]Role, 0, len(in))
	for _, r := range in {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// HasRole reports whether roles contains r.
func HasRole(roles []Role, r Role) bool {
	for _, x := range roles {
		if x == r {
			return true
		}
	}
	return false
}
