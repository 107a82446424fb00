package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/qubes-preflight/internal/domain/inventory"
)

// Config holds the settings shared by the preflight binaries: how to reach
// and update each class of VM, run policy, and the staleness check knobs.
type Config struct {
	// AdminVM is the name of the administrative domain the orchestrator
	// runs in.
	AdminVM string `yaml:"admin_vm"`
	// NetworkProxies lists VM names re-tagged as network proxies; proxies
	// are restarted unconditionally, even when halted.
	NetworkProxies []string `yaml:"network_proxies"`
	// Commands maps each VM role to its default update command.
	Commands CommandSet `yaml:"commands"`
	// VMCommands overrides the role command for individual VMs by name.
	VMCommands map[string]string `yaml:"vm_commands"`
	// TaskTimeoutSeconds bounds each task's execution time.
	TaskTimeoutSeconds int `yaml:"task_timeout_seconds"`
	// RetryBudget is how many additional attempts a failed or timed-out
	// task gets. Zero by default: updates are not silently retried.
	RetryBudget int `yaml:"retry_budget"`
	// AdminFirst places the administrative domain's self-update first in
	// the plan instead of last.
	AdminFirst bool `yaml:"admin_first"`
	// EscalateAdminFailure makes a non-successful admin-domain task fail
	// the whole run, like a channel error does.
	EscalateAdminFailure bool `yaml:"escalate_admin_failure"`
	// RestartHaltedApps restarts app VMs that were shut down by the user.
	// Off by default: booting machines the user halted is unwanted.
	RestartHaltedApps bool `yaml:"restart_halted_apps"`
	// RebootMarkers are case-insensitive substrings of task output that
	// indicate a kernel or core-library update happened.
	RebootMarkers []string `yaml:"reboot_markers"`
	// RebootExitCode, when non-zero, marks a reboot as required whenever an
	// executed task exits with this code.
	RebootExitCode int `yaml:"reboot_exit_code"`
	// StampPath is where the last-run timestamp is written for the notifier.
	StampPath string `yaml:"stamp_path"`
	// StalenessThresholdSeconds is how old the stamp may get before the
	// notifier prompts the user.
	StalenessThresholdSeconds int `yaml:"staleness_threshold_seconds"`
	// UptimeGraceSeconds suppresses prompts until the system has been up
	// this long. Zero disables the grace period.
	UptimeGraceSeconds int `yaml:"uptime_grace_seconds"`
	// ConflictingProcesses are executable names whose presence means an
	// update is already in progress and the notifier must stay silent.
	ConflictingProcesses []string `yaml:"conflicting_processes"`
	// LogLevel is the default logging level, overridable per invocation.
	LogLevel string `yaml:"log_level"`
}

// CommandSet maps VM roles to their default update commands. The {vm}
// placeholder is replaced with the target VM's name.
type CommandSet struct {
	// Template updates a template VM; runs inside the template itself.
	Template string `yaml:"template"`
	// AppVM restarts an app VM so it picks up its updated template; runs in
	// the administrative domain.
	AppVM string `yaml:"app_vm"`
	// NetworkProxy restarts a network proxy VM; runs in the administrative
	// domain.
	NetworkProxy string `yaml:"network_proxy"`
	// AdminDomain updates the administrative domain; runs locally.
	AdminDomain string `yaml:"admin_domain"`
}

const (
	// DefaultConfigFilename is the default filename for preflight settings.
	DefaultConfigFilename = "preflight-settings.yaml"

	// DefaultStampFilename is the default filename for the last-run stamp.
	DefaultStampFilename = "preflight-last-run"

	// DefaultAdminVM is the platform's administrative domain name.
	DefaultAdminVM = "dom0"

	// DefaultTaskTimeout bounds a single update command.
	DefaultTaskTimeout = 30 * time.Minute

	// DefaultStalenessThreshold is how long the workstation may go without
	// a completed update run before the user is prompted.
	DefaultStalenessThreshold = 5 * 24 * time.Hour

	// DefaultUptimeGrace keeps the notifier quiet right after boot.
	DefaultUptimeGrace = 30 * time.Minute

	// DefaultLogLevel is used when neither the file nor the CLI set one.
	DefaultLogLevel = "info"

	// DefaultFilePermissions is the default file permission for files the
	// preflight binaries write.
	DefaultFilePermissions = 0o600

	// Default per-role update commands.
	DefaultTemplateCommand     = "sudo apt-get -qq update && sudo apt-get -qy dist-upgrade"
	DefaultAppVMCommand        = "qvm-shutdown --wait --quiet {vm} && qvm-start --quiet {vm}"
	DefaultNetworkProxyCommand = "qvm-shutdown --wait --quiet {vm} && qvm-start --quiet {vm}"
	DefaultAdminDomainCommand  = "sudo qubes-dom0-update -y"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errAdminVMRequired is returned when the administrative domain name is missing.
	errAdminVMRequired = errors.New("admin vm name must be provided")
	// errCommandRequired is returned when a role has no update command.
	errCommandRequired = errors.New("update command must not be empty")
	// errNonPositiveTimeout is returned for zero or negative task timeouts.
	errNonPositiveTimeout = errors.New("task timeout must be positive")
	// errNegativeRetryBudget is returned for negative retry budgets.
	errNegativeRetryBudget = errors.New("retry budget must not be negative")
	// errNegativeRebootExitCode is returned for negative reboot exit codes.
	errNegativeRebootExitCode = errors.New("reboot exit code must not be negative")
	// errStampPathRequired is returned when no stamp path is configured.
	errStampPathRequired = errors.New("stamp path must be provided")
	// errNonPositiveThreshold is returned for zero or negative staleness thresholds.
	errNonPositiveThreshold = errors.New("staleness threshold must be positive")
	// errNegativeUptimeGrace is returned for negative uptime grace periods.
	errNegativeUptimeGrace = errors.New("uptime grace must not be negative")
)

// Default returns a configuration populated with every default value.
// Load unmarshals the settings file over it, so absent fields keep their
// defaults while explicit zero values win.
func Default() *Config {
	return &Config{
		AdminVM:        DefaultAdminVM,
		NetworkProxies: []string{"sys-net", "sys-firewall", "sys-whonix"},
		Commands: CommandSet{
			Template:     DefaultTemplateCommand,
			AppVM:        DefaultAppVMCommand,
			NetworkProxy: DefaultNetworkProxyCommand,
			AdminDomain:  DefaultAdminDomainCommand,
		},
		TaskTimeoutSeconds:        int(DefaultTaskTimeout / time.Second),
		RebootMarkers:             []string{"kernel", "linux-image", "linux-firmware", "xen", "microcode", "glibc", "libc6", "systemd"},
		StampPath:                 DefaultStampFilename,
		StalenessThresholdSeconds: int(DefaultStalenessThreshold / time.Second),
		UptimeGraceSeconds:        int(DefaultUptimeGrace / time.Second),
		ConflictingProcesses:      []string{"qubes-dom0-update", "qubesctl", "qubes-vm-update"},
		LogLevel:                  DefaultLogLevel,
	}
}

// Load reads configuration from the provided path, overlays it on the
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and sane values.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.AdminVM == "" {
		return errAdminVMRequired
	}

	for role, command := range cfg.RoleCommands() {
		if command == "" {
			return fmt.Errorf("role %s: %w", role, errCommandRequired)
		}
	}

	if cfg.TaskTimeoutSeconds <= 0 {
		return errNonPositiveTimeout
	}

	if cfg.RetryBudget < 0 {
		return errNegativeRetryBudget
	}

	if cfg.RebootExitCode < 0 {
		return errNegativeRebootExitCode
	}

	if cfg.StampPath == "" {
		return errStampPathRequired
	}

	if cfg.StalenessThresholdSeconds <= 0 {
		return errNonPositiveThreshold
	}

	if cfg.UptimeGraceSeconds < 0 {
		return errNegativeUptimeGrace
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}

	return nil
}

// RoleCommands returns the per-role default commands keyed by inventory role.
func (c *Config) RoleCommands() map[inventory.Role]string {
	return map[inventory.Role]string{
		inventory.RoleTemplate:     c.Commands.Template,
		inventory.RoleAppVM:        c.Commands.AppVM,
		inventory.RoleNetworkProxy: c.Commands.NetworkProxy,
		inventory.RoleAdminDomain:  c.Commands.AdminDomain,
	}
}

// TaskTimeout returns the per-task timeout as a duration.
func (c *Config) TaskTimeout() time.Duration {
	return time.Duration(c.TaskTimeoutSeconds) * time.Second
}

// StalenessThreshold returns the staleness threshold as a duration.
func (c *Config) StalenessThreshold() time.Duration {
	return time.Duration(c.StalenessThresholdSeconds) * time.Second
}

// UptimeGrace returns the post-boot grace period as a duration.
func (c *Config) UptimeGrace() time.Duration {
	return time.Duration(c.UptimeGraceSeconds) * time.Second
}
