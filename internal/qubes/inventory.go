package qubes

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/oshokin/qubes-preflight/internal/domain/inventory"
	"github.com/oshokin/qubes-preflight/internal/logger"
)

// InventoryReader enumerates the platform's VMs into a validated Snapshot.
// Reading is pure: implementations must not mutate platform state.
type InventoryReader interface {
	List(ctx context.Context) (*inventory.Snapshot, error)
}

// ErrInventoryUnavailable is returned when the platform management interface
// cannot be reached or its output cannot be understood.
var ErrInventoryUnavailable = errors.New("inventory unavailable")

// qvmLsFields is the field list requested from qvm-ls, in parse order.
const qvmLsFields = "name,class,template,state"

// Platform VM classes as printed by qvm-ls.
const (
	classAdminVM      = "adminvm"
	classTemplateVM   = "templatevm"
	classAppVM        = "appvm"
	classStandaloneVM = "standalonevm"
)

// Client talks to the platform's management tools. It implements both
// InventoryReader (via qvm-ls) and Channel (via qvm-run).
type Client struct {
	// adminVM is the name of the administrative domain; commands targeting
	// it run through the local shell.
	adminVM string
	// proxies holds the VM names re-tagged as network proxies.
	proxies map[string]struct{}
}

// NewClient creates a platform client. VMs named in proxies are reported
// with the network-proxy role regardless of their platform class.
func NewClient(adminVM string, proxies []string) *Client {
	proxySet := make(map[string]struct{}, len(proxies))
	for _, name := range proxies {
		proxySet[name] = struct{}{}
	}

	return &Client{
		adminVM: adminVM,
		proxies: proxySet,
	}
}

// List enumerates VMs through qvm-ls and validates them into a Snapshot.
func (c *Client) List(ctx context.Context) (*inventory.Snapshot, error) {
	cmd := exec.CommandContext(ctx, "qvm-ls", "--raw-data", "--fields", qvmLsFields)

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("qvm-ls: %v: %s: %w",
			err, firstLine(stderr.String()), ErrInventoryUnavailable)
	}

	vms, err := c.parseInventory(ctx, stdout.String())
	if err != nil {
		return nil, err
	}

	snapshot, err := inventory.NewSnapshot(vms)
	if err != nil {
		return nil, fmt.Errorf("validate inventory: %w", err)
	}

	return snapshot, nil
}

// parseInventory converts qvm-ls raw output into VMs, preserving enumeration
// order. VMs of a class the orchestrator has no update policy for are logged
// and excluded rather than guessed at.
func (c *Client) parseInventory(ctx context.Context, output string) ([]inventory.VM, error) {
	lines := strings.Split(output, "\n")
	vms := make([]inventory.VM, 0, len(lines))

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Split(line, "|")
		if len(fields) != 4 {
			return nil, fmt.Errorf("malformed qvm-ls line %q: %w", line, ErrInventoryUnavailable)
		}

		var (
			name     = strings.TrimSpace(fields[0])
			class    = strings.TrimSpace(fields[1])
			template = strings.TrimSpace(fields[2])
			state    = strings.TrimSpace(fields[3])
		)

		role, known := c.mapClass(name, class)
		if !known {
			logger.WarnKV(ctx, "Excluding VM of unknown class", "vm", name, "class", class)
			continue
		}

		// qvm-ls prints "-" for VMs without a template.
		if template == "-" {
			template = ""
		}

		vms = append(vms, inventory.VM{
			Name:        name,
			Role:        role,
			DerivesFrom: template,
			State:       mapState(state),
		})
	}

	return vms, nil
}

// mapClass translates a platform VM class into an orchestrator role.
// Configured proxy names win over the platform class: sys-net and friends
// are AppVMs to the platform but need restart handling, not updates.
func (c *Client) mapClass(name, class string) (inventory.Role, bool) {
	if _, isProxy := c.proxies[name]; isProxy {
		return inventory.RoleNetworkProxy, true
	}

	switch strings.ToLower(class) {
	case classAdminVM:
		return inventory.RoleAdminDomain, true
	case classTemplateVM:
		return inventory.RoleTemplate, true
	case classAppVM, classStandaloneVM:
		return inventory.RoleAppVM, true
	default:
		return "", false
	}
}

// mapState reduces the platform's power states to the two the orchestrator
// acts on. Anything that is not halted (running, paused, transient) holds
// resources and counts as running.
func mapState(state string) inventory.PowerState {
	if strings.EqualFold(state, string(inventory.PowerHalted)) {
		return inventory.PowerHalted
	}

	return inventory.PowerRunning
}
