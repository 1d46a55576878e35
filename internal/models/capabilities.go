package models

import (
	"sort"
	"strings"
)

// Capability ("permission ticket") constants granted to sessions
const (
	// Task capabilities
	CapabilityTasksRead  = "tasks.read"
	CapabilityTasksWrite = "tasks.write"

	// Request capabilities
	CapabilityRequestsRead    = "requests.read"
	CapabilityRequestsSubmit  = "requests.submit"
	CapabilityRequestsApprove = "requests.approve"

	// Admin-only capabilities
	CapabilityUsersManage  = "users.manage"
	CapabilitySecurityRead = "security.read"

	// Wildcard capability - grants everything (admin only)
	CapabilityAll = "*"
)

// AllValidCapabilities is the whitelist of known capabilities
var AllValidCapabilities = map[string]bool{
	CapabilityTasksRead:       true,
	CapabilityTasksWrite:      true,
	CapabilityRequestsRead:    true,
	CapabilityRequestsSubmit:  true,
	CapabilityRequestsApprove: true,
	CapabilityUsersManage:     true,
	CapabilitySecurityRead:    true,
	CapabilityAll:             true,
}

// AdminOnlyCapabilities may only be held by the admin role
var AdminOnlyCapabilities = map[string]bool{
	CapabilityUsersManage:  true,
	CapabilitySecurityRead: true,
	CapabilityAll:          true,
}

// IsValidCapability checks if a capability exists in the whitelist
func IsValidCapability(capability string) bool {
	return AllValidCapabilities[capability]
}

// NormalizeCapabilities trims, de-duplicates and sorts a capability list and
// drops anything unknown or not permitted for role. The result is never nil.
func NormalizeCapabilities(role string, capabilities []string) []string {
	seen := make(map[string]bool, len(capabilities))
	out := make([]string, 0, len(capabilities))
	for _, c := range capabilities {
		c = strings.TrimSpace(c)
		if !IsValidCapability(c) || seen[c] {
			continue
		}
		if AdminOnlyCapabilities[c] && role != "admin" {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// HasCapability checks if a capability list contains required.
// The wildcard grants everything.
func HasCapability(capabilities []string, required string) bool {
	for _, c := range capabilities {
		if c == CapabilityAll || c == required {
			return true
		}
	}
	return false
}
