package models

import "strings"

type Role string

const (
	RolePIN             Role = "pin"
	RoleCSR             Role = "csr_rep"
	RolePlatformManager Role = "platform_manager"
	RoleAdmin           Role = "admin"
)

// Roles lists every role in display order.
var Roles = []Role{RolePIN, RoleCSR, RolePlatformManager, RoleAdmin}

// NormalizeRole maps the spellings used across the dashboards ("CSR Rep",
// "PM", "Platform Manager", ...) onto a canonical role.
func NormalizeRole(s string) (Role, bool) {
	switch squash(s) {
	case "pin", "personinneed":
		return RolePIN, true
	case "csr", "csrrep", "csrrepresentative":
		return RoleCSR, true
	case "pm", "platformmanager", "manager":
		return RolePlatformManager, true
	case "admin", "administrator":
		return RoleAdmin, true
	}
	return "", false
}

// squash lowercases s and drops spaces, dashes and underscores.
func squash(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch r {
		case ' ', '-', '_':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
