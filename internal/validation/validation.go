// Package validation bounds-checks the untrusted-ish inputs the core
// accepts: probe-description fields (spec §3), PIDs, provider names, and
// container/process identifiers used when resolving uprobe targets.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	maxDescriptorFieldLength = 256
	maxProviderNameLength    = 64
)

var containerIDRegex = regexp.MustCompile(`^[a-f0-9]{64}$|^[a-f0-9]{12,}$`)

// ValidatePID reports whether pid is a plausible Linux PID (spec §4.D
// pid-provider dispatch reads the current PID from the kernel helper and
// compares it against this range).
func ValidatePID(pid uint32) bool {
	return pid > 0 && pid < 4194304
}

// ValidateDescriptorField bounds one of the four probe-description fields
// (provider, module, function, name — spec §3). Empty is valid: it is how
// "-" (any) is represented internally once the glob has been normalized.
func ValidateDescriptorField(field string) error {
	if len(field) > maxDescriptorFieldLength {
		return fmt.Errorf("probe description field exceeds maximum length of %d characters", maxDescriptorFieldLength)
	}
	return nil
}

// ValidateProviderName bounds a provider's own registration name (spec
// §4.A, looked up via an open-addressed hash table keyed on this string).
func ValidateProviderName(name string) error {
	if name == "" {
		return fmt.Errorf("provider name cannot be empty")
	}
	if len(name) > maxProviderNameLength {
		return fmt.Errorf("provider name exceeds maximum length of %d characters", maxProviderNameLength)
	}
	return nil
}

// SanitizeProcessName strips control characters and format-string hazards
// from a process name read out of /proc before it is logged or compared.
func SanitizeProcessName(name string) string {
	name = strings.TrimSpace(name)
	var result strings.Builder
	result.Grow(len(name))
	for _, r := range name {
		if r >= 32 && r < 127 && r != '%' {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// ValidateContainerID reports whether containerID looks like a Docker/OCI
// container ID, used when resolving a pid-provider target's mapping path
// inside a container's root filesystem.
func ValidateContainerID(containerID string) bool {
	if len(containerID) == 0 || len(containerID) > 128 {
		return false
	}
	if strings.Contains(containerID, "..") || strings.Contains(containerID, "/") {
		return false
	}
	return containerIDRegex.MatchString(containerID)
}
