package inventory

import (
	"strings"
	"time"
)

// Role classifies a VM's function on the virtualization platform.
type Role string

const (
	// RoleTemplate is a VM image other VMs derive their root filesystem from.
	RoleTemplate Role = "template"
	// RoleAppVM is a task-specific VM built from a template.
	RoleAppVM Role = "app-vm"
	// RoleAdminDomain is the privileged management VM of the platform.
	RoleAdminDomain Role = "admin-domain"
	// RoleNetworkProxy is a VM that provides network access to other VMs.
	RoleNetworkProxy Role = "network-proxy"
)

// ParseRole converts string input to a Role.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleTemplate:
		return RoleTemplate, true
	case RoleAppVM:
		return RoleAppVM, true
	case RoleAdminDomain:
		return RoleAdminDomain, true
	case RoleNetworkProxy:
		return RoleNetworkProxy, true
	default:
		return "", false
	}
}

// PowerState describes whether a VM is currently running.
type PowerState string

const (
	// PowerRunning means the VM is powered on.
	PowerRunning PowerState = "running"
	// PowerHalted means the VM is shut down.
	PowerHalted PowerState = "halted"
)

// ParsePowerState converts string input to a PowerState.
func ParsePowerState(s string) (PowerState, bool) {
	switch PowerState(strings.ToLower(strings.TrimSpace(s))) {
	case PowerRunning:
		return PowerRunning, true
	case PowerHalted:
		return PowerHalted, true
	default:
		return "", false
	}
}

// VM describes a single virtual machine as reported by the platform.
type VM struct {
	// Name is the VM's unique identifier on the platform.
	Name string
	// Role classifies what the VM is for.
	Role Role
	// DerivesFrom names the template this VM is built from.
	// Empty for templates and the administrative domain.
	DerivesFrom string
	// State is the VM's power state at inventory time.
	State PowerState
	// LastUpdated is when the VM's software was last updated.
	// Zero when the inventory source does not expose it.
	LastUpdated time.Time
}
