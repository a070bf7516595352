//go:build windows

// Package elevate checks for the administrator rights the session needs
// to touch routes, DNS bindings and firewall rules.
package elevate

import (
	"golang.org/x/sys/windows"
)

// IsAdmin reports whether the current process token is a member of the
// built-in Administrators group.
func IsAdmin() bool {
	var sid *windows.SID
	err := windows.AllocateAndInitializeSid(
		&windows.SECURITY_NT_AUTHORITY,
		2,
		windows.SECURITY_BUILTIN_DOMAIN_RID,
		windows.DOMAIN_ALIAS_RID_ADMINS,
		0, 0, 0, 0, 0, 0,
		&sid,
	)
	if err != nil {
		return false
	}
	defer windows.FreeSid(sid)

	member, err := windows.Token(0).IsMember(sid)
	if err != nil {
		return false
	}
	return member
}
