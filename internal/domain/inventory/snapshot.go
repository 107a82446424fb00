package inventory

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyName is returned when a VM has no name.
	ErrEmptyName = errors.New("vm name is empty")
	// ErrDuplicateName is returned when two VMs share a name.
	ErrDuplicateName = errors.New("duplicate vm name")
	// ErrUnknownTemplate is returned when derives-from references a VM
	// missing from the snapshot.
	ErrUnknownTemplate = errors.New("derives-from references an unknown vm")
	// ErrNotATemplate is returned when derives-from references a VM that is
	// not a template.
	ErrNotATemplate = errors.New("derives-from references a non-template vm")
)

// Snapshot is an ordered, validated view of the VM inventory.
// The order preserves platform enumeration order; the sequencer uses it as
// the deterministic tie-break for VMs with no ordering constraint.
type Snapshot struct {
	// vms holds the VMs in enumeration order.
	vms []VM
	// index maps VM names to their position in vms.
	index map[string]int
}

// NewSnapshot validates the VM list and wraps it into a Snapshot.
// Names must be unique and every derives-from reference must resolve to a
// template present in the list; a violation is an inventory integrity error
// and aborts the run before any task executes.
func NewSnapshot(vms []VM) (*Snapshot, error) {
	index := make(map[string]int, len(vms))

	for i, vm := range vms {
		if vm.Name == "" {
			return nil, fmt.Errorf("vm at position %d: %w", i, ErrEmptyName)
		}

		if _, found := index[vm.Name]; found {
			return nil, fmt.Errorf("vm %q: %w", vm.Name, ErrDuplicateName)
		}

		index[vm.Name] = i
	}

	for _, vm := range vms {
		if vm.DerivesFrom == "" {
			continue
		}

		position, found := index[vm.DerivesFrom]
		if !found {
			return nil, fmt.Errorf("vm %q derives from %q: %w", vm.Name, vm.DerivesFrom, ErrUnknownTemplate)
		}

		if vms[position].Role != RoleTemplate {
			return nil, fmt.Errorf("vm %q derives from %q: %w", vm.Name, vm.DerivesFrom, ErrNotATemplate)
		}
	}

	return &Snapshot{
		vms:   append([]VM(nil), vms...),
		index: index,
	}, nil
}

// VMs returns the snapshot's VMs in inventory order.
// The returned slice is a copy and may be mutated freely by the caller.
func (s *Snapshot) VMs() []VM {
	return append([]VM(nil), s.vms...)
}

// Lookup returns the VM with the given name.
func (s *Snapshot) Lookup(name string) (VM, bool) {
	position, found := s.index[name]
	if !found {
		return VM{}, false
	}

	return s.vms[position], true
}

// Len returns the number of VMs in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.vms)
}
