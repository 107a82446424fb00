package qubes

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/qubes-preflight/internal/domain/inventory"
)

// FileReader reads the VM inventory from a YAML file instead of the
// platform. It serves offline plan inspection and tests; the file's VM
// order is preserved as the snapshot's enumeration order.
type FileReader struct {
	// path is the filesystem location of the inventory YAML.
	path string
}

// fileInventory is the YAML layout of an inventory file.
type fileInventory struct {
	// VMs lists the inventory in enumeration order.
	VMs []fileVM `yaml:"vms"`
}

// fileVM is one VM entry in an inventory file.
type fileVM struct {
	// Name is the VM's unique identifier.
	Name string `yaml:"name"`
	// Role is one of template, app-vm, admin-domain, network-proxy.
	Role string `yaml:"role"`
	// DerivesFrom names the VM's template, empty when it has none.
	DerivesFrom string `yaml:"derives_from"`
	// State is running or halted; an absent state means running.
	State string `yaml:"state"`
	// LastUpdated is when the VM's software was last updated, optional.
	LastUpdated time.Time `yaml:"last_updated"`
}

// NewFileReader creates a reader for the inventory file at path.
func NewFileReader(path string) *FileReader {
	return &FileReader{
		path: filepath.Clean(path),
	}
}

// List parses the inventory file and validates it into a Snapshot.
func (r *FileReader) List(_ context.Context) (*inventory.Snapshot, error) {
	contents, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("read inventory file: %v: %w", err, ErrInventoryUnavailable)
	}

	var parsed fileInventory
	if err = yaml.Unmarshal(contents, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal inventory file: %v: %w", err, ErrInventoryUnavailable)
	}

	vms := make([]inventory.VM, 0, len(parsed.VMs))

	for _, entry := range parsed.VMs {
		role, ok := inventory.ParseRole(entry.Role)
		if !ok {
			return nil, fmt.Errorf("vm %q: unknown role %q: %w",
				entry.Name, entry.Role, ErrInventoryUnavailable)
		}

		state := inventory.PowerRunning
		if entry.State != "" {
			state, ok = inventory.ParsePowerState(entry.State)
			if !ok {
				return nil, fmt.Errorf("vm %q: unknown state %q: %w",
					entry.Name, entry.State, ErrInventoryUnavailable)
			}
		}

		vms = append(vms, inventory.VM{
			Name:        entry.Name,
			Role:        role,
			DerivesFrom: entry.DerivesFrom,
			State:       state,
			LastUpdated: entry.LastUpdated,
		})
	}

	snapshot, err := inventory.NewSnapshot(vms)
	if err != nil {
		return nil, fmt.Errorf("validate inventory: %w", err)
	}

	return snapshot, nil
}
