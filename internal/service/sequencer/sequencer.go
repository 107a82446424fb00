package sequencer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oshokin/qubes-preflight/internal/config"
	"github.com/oshokin/qubes-preflight/internal/domain/inventory"
	"github.com/oshokin/qubes-preflight/internal/domain/update"
	"github.com/oshokin/qubes-preflight/internal/logger"
)

// vmPlaceholder is replaced with the target VM's name in command templates.
const vmPlaceholder = "{vm}"

// ErrCyclicDependency is returned when derives-from references form a cycle.
// The error names the VMs on the cycle and no tasks are produced.
var ErrCyclicDependency = errors.New("cyclic template dependency")

// errNoCommand is returned when neither a per-VM override nor a role default
// yields a command for a VM.
var errNoCommand = errors.New("no update command configured")

// Service builds deterministic update plans from inventory snapshots.
type Service struct {
	// cfg supplies commands, timeouts, and ordering policy.
	cfg *config.Config
}

// New creates a sequencer driven by the provided settings.
func New(cfg *config.Config) *Service {
	return &Service{
		cfg: cfg,
	}
}

// Plan orders the snapshot's VMs so that every template precedes the VMs
// deriving from it, resolves each VM's command and execution locus, and adds
// the administrative domain's self-update task. The same snapshot always
// yields the same plan.
func (s *Service) Plan(ctx context.Context, snap *inventory.Snapshot) ([]update.Task, error) {
	// The admin domain gets a dedicated task below even when the platform
	// lists it in the inventory.
	managed := make([]inventory.VM, 0, snap.Len())

	for _, vm := range snap.VMs() {
		if vm.Role == inventory.RoleAdminDomain {
			continue
		}

		managed = append(managed, vm)
	}

	ordered, err := sortByDependency(managed)
	if err != nil {
		return nil, err
	}

	tasks := make([]update.Task, 0, len(ordered)+1)

	for _, vm := range ordered {
		task, taskErr := s.buildTask(vm)
		if taskErr != nil {
			return nil, fmt.Errorf("plan %s: %w", vm.Name, taskErr)
		}

		tasks = append(tasks, task)
	}

	adminTask, err := s.adminTask()
	if err != nil {
		return nil, err
	}

	if s.cfg.AdminFirst {
		tasks = append([]update.Task{adminTask}, tasks...)
	} else {
		tasks = append(tasks, adminTask)
	}

	logger.DebugKV(ctx, "Update plan ready",
		"tasks", len(tasks),
		"admin_first", s.cfg.AdminFirst)

	return tasks, nil
}

// buildTask resolves the command and execution locus for one VM.
func (s *Service) buildTask(vm inventory.VM) (update.Task, error) {
	command, err := s.commandFor(vm.Name, vm.Role)
	if err != nil {
		return update.Task{}, err
	}

	return update.Task{
		Target:      vm.Name,
		Role:        vm.Role,
		DerivesFrom: vm.DerivesFrom,
		Command:     command,
		Locus:       s.locusFor(vm.Name, vm.Role),
		Timeout:     s.cfg.TaskTimeout(),
		RetryBudget: s.cfg.RetryBudget,
	}, nil
}

// adminTask builds the administrative domain's self-update task. It exists
// regardless of whether the platform lists the admin domain in the inventory,
// so an empty inventory still yields a one-task plan.
func (s *Service) adminTask() (update.Task, error) {
	command, err := s.commandFor(s.cfg.AdminVM, inventory.RoleAdminDomain)
	if err != nil {
		return update.Task{}, fmt.Errorf("plan %s: %w", s.cfg.AdminVM, err)
	}

	return update.Task{
		Target:      s.cfg.AdminVM,
		Role:        inventory.RoleAdminDomain,
		Command:     command,
		Locus:       s.cfg.AdminVM,
		Timeout:     s.cfg.TaskTimeout(),
		RetryBudget: s.cfg.RetryBudget,
	}, nil
}

// commandFor resolves a VM's command: the per-VM override when set, the role
// default otherwise, with the {vm} placeholder substituted in either source.
func (s *Service) commandFor(name string, role inventory.Role) (string, error) {
	command := s.cfg.VMCommands[name]
	if command == "" {
		command = s.cfg.RoleCommands()[role]
	}

	if command == "" {
		return "", fmt.Errorf("role %s: %w", role, errNoCommand)
	}

	return strings.ReplaceAll(command, vmPlaceholder, name), nil
}

// locusFor picks the VM the command actually executes in. Templates update
// from inside themselves; app VMs and proxies are managed from the
// administrative domain.
func (s *Service) locusFor(name string, role inventory.Role) string {
	if role == inventory.RoleTemplate {
		return name
	}

	return s.cfg.AdminVM
}

// sortByDependency applies Kahn's algorithm over the derives-from edges.
// Each pass scans the inventory from the top and places the first VM whose
// template is already placed, so among simultaneously ready VMs the
// earliest-listed one always goes next. A pass that places nothing means the
// remaining VMs sit on or behind a cycle.
func sortByDependency(vms []inventory.VM) ([]inventory.VM, error) {
	placed := make(map[string]bool, len(vms))
	ordered := make([]inventory.VM, 0, len(vms))

	for len(ordered) < len(vms) {
		progressed := false

		for _, vm := range vms {
			if placed[vm.Name] {
				continue
			}

			if vm.DerivesFrom != "" && !placed[vm.DerivesFrom] {
				continue
			}

			placed[vm.Name] = true
			ordered = append(ordered, vm)
			progressed = true

			break
		}

		if !progressed {
			members := cycleMembers(vms, placed)

			return nil, fmt.Errorf("%w: %s", ErrCyclicDependency, strings.Join(members, ", "))
		}
	}

	return ordered, nil
}

// cycleMembers narrows the unplaced VMs down to the ones actually on a
// dependency cycle by repeatedly shaving off nodes nothing depends on.
// Returned names follow inventory order.
func cycleMembers(vms []inventory.VM, placed map[string]bool) []string {
	unplaced := make(map[string]string, len(vms))

	for _, vm := range vms {
		if !placed[vm.Name] {
			unplaced[vm.Name] = vm.DerivesFrom
		}
	}

	for {
		dependedOn := make(map[string]struct{}, len(unplaced))
		for _, from := range unplaced {
			dependedOn[from] = struct{}{}
		}

		shaved := false

		for name := range unplaced {
			if _, ok := dependedOn[name]; !ok {
				delete(unplaced, name)

				shaved = true
			}
		}

		if !shaved {
			break
		}
	}

	members := make([]string, 0, len(unplaced))

	for _, vm := range vms {
		if _, ok := unplaced[vm.Name]; ok {
			members = append(members, vm.Name)
		}
	}

	return members
}
