// Package unit defines the declarative unit data model (spec.md §3) and
// the INI-style parser that populates it (spec.md §4.1).
package unit

import "time"

// Kind is one of the seven unit kinds this core understands.
type Kind string

const (
	KindService Kind = "service"
	KindSocket  Kind = "socket"
	KindTimer   Kind = "timer"
	KindMount   Kind = "mount"
	KindTarget  Kind = "target"
	KindSlice   Kind = "slice"
	KindScope   Kind = "scope"
)

// ServiceType selects the readiness protocol (spec.md §4.3).
type ServiceType string

const (
	TypeSimple       ServiceType = "simple"
	TypeForking      ServiceType = "forking"
	TypeOneshot      ServiceType = "oneshot"
	TypeNotify       ServiceType = "notify"
	TypeNotifyReload ServiceType = "notify-reload"
	TypeDBus         ServiceType = "dbus"
	TypeIdle         ServiceType = "idle"
)

// RestartPolicy selects which exit classifications trigger a restart.
type RestartPolicy string

const (
	RestartNo         RestartPolicy = "no"
	RestartOnSuccess  RestartPolicy = "on-success"
	RestartOnFailure  RestartPolicy = "on-failure"
	RestartOnAbnormal RestartPolicy = "on-abnormal"
	RestartOnWatchdog RestartPolicy = "on-watchdog"
	RestartOnAbort    RestartPolicy = "on-abort"
	RestartAlways     RestartPolicy = "always"
)

// KillMode selects which PIDs receive the stop signal.
type KillMode string

const (
	KillControlGroup KillMode = "control-group"
	KillProcess      KillMode = "process"
	KillMixed        KillMode = "mixed"
	KillNone         KillMode = "none"
)

// NotifyAccess restricts which sender PIDs a READY=1/WATCHDOG=1
// datagram is honored from.
type NotifyAccess string

const (
	NotifyNone NotifyAccess = "none"
	NotifyMain NotifyAccess = "main"
	NotifyExec NotifyAccess = "exec"
	NotifyAll  NotifyAccess = "all"
)

// ProtectSystemMode and ProtectHomeMode are the enumerations for the
// two eponymous sandbox directives (spec.md §3 Sandbox directives).
type ProtectSystemMode string

const (
	ProtectSystemNo     ProtectSystemMode = "no"
	ProtectSystemYes    ProtectSystemMode = "yes"
	ProtectSystemFull   ProtectSystemMode = "full"
	ProtectSystemStrict ProtectSystemMode = "strict"
)

type ProtectHomeMode string

const (
	ProtectHomeNo       ProtectHomeMode = "no"
	ProtectHomeYes      ProtectHomeMode = "yes"
	ProtectHomeReadOnly ProtectHomeMode = "read-only"
	ProtectHomeTmpfs    ProtectHomeMode = "tmpfs"
)

// EdgeSet captures the dependency edges carried by every unit.
type EdgeSet struct {
	After     []string
	Before    []string
	Requires  []string
	Wants     []string
	BindsTo   []string
	Conflicts []string
	PartOf    []string
	Requisite []string
}

// Condition is one Condition*=/Assert*= directive; Assert indicates the
// assert- variant (failure transitions the unit to failed rather than
// leaving it inactive).
type Condition struct {
	Name     string // e.g. "PathExists", "FileNotEmpty", "KernelCommandLine"
	Negate   bool   // leading "!"
	Argument string
	Assert   bool
}

// DirectorySpec describes one of RuntimeDirectory/StateDirectory/
// CacheDirectory/LogsDirectory/ConfigurationDirectory.
type DirectorySpec struct {
	Paths    []string
	Mode     uint32
	Preserve bool
}

// InstallSection mirrors the [Install] section used for enablement.
type InstallSection struct {
	WantedBy   []string
	RequiredBy []string
	Alias      []string
	Also       []string
}

// Unit is the canonical in-memory representation of one loaded unit.
type Unit struct {
	Name    string // canonical "<stem>.<kind>"
	Kind    Kind
	Aliases []string
	LoadPath string

	Description string
	Documentation []string
	Edges       EdgeSet
	DefaultDependencies bool
	Conditions  []Condition
	Install     InstallSection

	// DropIns records, in application order, the drop-in files merged
	// on top of the base unit file (for debugging / Serialize).
	DropIns []string

	Service *Service
	Socket  *Socket
	Timer   *Timer
	Mount   *Mount

	// Template/instance bookkeeping.
	IsTemplate      bool
	Instance        string // %i, escaped
	InstanceRaw     string // %I, unescaped
	DefaultInstance string
}

// ExecCommand is one entry of an Exec*= directive list. A leading "-"
// means failure is ignored; a leading "@" overrides argv[0] (rare, kept
// for grammar completeness).
type ExecCommand struct {
	Path        string
	Args        []string
	IgnoreFailure bool
}

// RateLimit is StartLimitBurst/StartLimitIntervalSec.
type RateLimit struct {
	Burst    int
	Interval time.Duration
}

// Service is the kind=service type-specific data (spec.md §3 Service).
type Service struct {
	Type ServiceType

	ExecStartPre  []ExecCommand
	ExecStart     []ExecCommand
	ExecStartPost []ExecCommand
	ExecReload    []ExecCommand
	ExecStop      []ExecCommand
	ExecStopPost  []ExecCommand

	Restart                  RestartPolicy
	RestartSec               time.Duration
	RestartPreventExitStatus []int

	TimeoutStartSec time.Duration
	TimeoutStopSec  time.Duration

	KillMode     KillMode
	SendSIGHUP   bool
	RemainAfterExit bool
	WatchdogSec  time.Duration
	NotifyAccess NotifyAccess

	User          string
	Group         string
	DynamicUser   bool
	SupplementaryGroups []string

	Environment []string // KEY=VALUE, expanded at exec time
	EnvironmentFiles []string
	UnsetEnvironment []string

	WorkingDirectory string

	StandardInput  string
	StandardOutput string
	StandardError  string

	Rlimits map[string]RlimitSpec
	OOMScoreAdjust *int

	Sandbox Sandbox

	Slice   string
	Sockets []string
	BusName string
	PIDFile string

	StartLimit RateLimit

	FileDescriptorStoreMax int
}

// RlimitSpec holds soft/hard values for one LimitXXX= directive; nil
// means "leave at the process default".
type RlimitSpec struct {
	Soft *uint64
	Hard *uint64
}

// Sandbox groups every directive from spec.md §3 "Sandbox directives".
type Sandbox struct {
	ProtectSystem ProtectSystemMode
	ProtectHome   ProtectHomeMode

	PrivateTmp             bool
	PrivateDevices         bool
	PrivateNetwork         bool
	ProtectKernelModules   bool
	ProtectKernelTunables  bool
	ProtectKernelLogs      bool
	ProtectControlGroups   bool
	ProtectClock           bool
	ProtectHostname        bool
	ProtectProc            string // "default"|"invisible"|"ptraceable"|"noaccess"
	MemoryDenyWriteExecute bool
	LockPersonality        bool
	RestrictRealtime       bool
	RestrictSUIDSGID       bool

	ReadWritePaths    []string
	ReadOnlyPaths     []string
	InaccessiblePaths []string

	CapabilityBoundingSet []string
	AmbientCapabilities   []string
	NoNewPrivileges       bool

	SystemCallFilter      []string // "~" prefix = deny-list
	SystemCallErrorNumber string
	SystemCallArchitectures []string
	RestrictNamespaces    []string // namespace flag names, or "yes"/"no"
	RestrictAddressFamilies []string

	DevicePolicy string // "auto"|"closed"|"strict"
	DeviceAllow  []string

	RuntimeDirectory      DirectorySpec
	StateDirectory        DirectorySpec
	CacheDirectory        DirectorySpec
	LogsDirectory         DirectorySpec
	ConfigurationDirectory DirectorySpec
}

// Listener is one ListenStream=/ListenDatagram=/ListenSequentialPacket=/
// ListenFIFO= entry.
type Listener struct {
	Kind    string // "stream"|"datagram"|"seqpacket"|"fifo"
	Address string // path, or "[host]:port" / ":port"
}

// Socket is the kind=socket type-specific data.
type Socket struct {
	Listeners []Listener
	Accept    bool
	Service   string // override of "<stem>.service"
	Mode      uint32
	User      string
	Group     string
}

// TimerTrigger is one On*= directive.
type TimerTrigger struct {
	Kind string // "calendar"|"boot"|"startup"|"active"|"unit-active"|"unit-inactive"
	// For Kind=="calendar", Expr holds the raw OnCalendar= expression.
	Expr string
	// For the monotonic kinds, Offset holds the duration.
	Offset time.Duration
}

// Timer is the kind=timer type-specific data.
type Timer struct {
	Triggers     []TimerTrigger
	Persistent   bool
	AccuracySec  time.Duration
	Unit         string // defaults to "<stem>.service"
}

// Mount is the kind=mount type-specific data.
type Mount struct {
	What    string
	Where   string
	Type    string
	Options string
}
