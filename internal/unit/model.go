package unit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// build populates u from the flattened, specifier-expanded assignment
// list (base file followed by drop-ins, in order) per the list/scalar
// merge rule of spec.md §4.1: repeated list-typed keys append; scalar
// keys keep the last value; an empty assignment resets the list.
func build(u *Unit, assignments []rawAssignment) error {
	unitF := indexFields(assignments, "Unit")
	installF := indexFields(assignments, "Install")

	u.Description = unitF.scalar("Description", "")
	u.Documentation = unitF.splitValues("Documentation")

	var err error
	if u.DefaultDependencies, err = unitF.boolean("DefaultDependencies", true); err != nil {
		return wrapParse(u, err)
	}

	u.Edges = EdgeSet{
		After:     unitF.splitValues("After"),
		Before:    unitF.splitValues("Before"),
		Requires:  unitF.splitValues("Requires"),
		Wants:     unitF.splitValues("Wants"),
		BindsTo:   unitF.splitValues("BindsTo"),
		Conflicts: unitF.splitValues("Conflicts"),
		PartOf:    unitF.splitValues("PartOf"),
		Requisite: unitF.splitValues("Requisite"),
	}

	conds, err := parseConditions(unitF)
	if err != nil {
		return wrapParse(u, err)
	}
	u.Conditions = conds

	u.Install = InstallSection{
		WantedBy:   installF.splitValues("WantedBy"),
		RequiredBy: installF.splitValues("RequiredBy"),
		Alias:      installF.splitValues("Alias"),
		Also:       installF.splitValues("Also"),
	}
	u.Aliases = append([]string{}, u.Install.Alias...)

	switch u.Kind {
	case KindService, KindScope:
		svc, err := buildService(indexFields(assignments, "Service"))
		if err != nil {
			return wrapParse(u, err)
		}
		u.Service = svc
	case KindSocket:
		sock, err := buildSocket(indexFields(assignments, "Socket"))
		if err != nil {
			return wrapParse(u, err)
		}
		u.Socket = sock
	case KindTimer:
		tmr, err := buildTimer(indexFields(assignments, "Timer"))
		if err != nil {
			return wrapParse(u, err)
		}
		if tmr.Unit == "" {
			tmr.Unit = strings.TrimSuffix(u.Name, "."+string(KindTimer)) + "." + string(KindService)
		}
		u.Timer = tmr
	case KindMount:
		u.Mount = buildMount(indexFields(assignments, "Mount"))
	case KindTarget, KindSlice:
		// no type-specific section
	default:
		return wrapParse(u, fmt.Errorf("unknown unit kind %q", u.Kind))
	}

	if u.IsTemplate {
		u.DefaultInstance = unitF.scalar("DefaultInstance", "")
	}
	return nil
}

func wrapParse(u *Unit, err error) error {
	if _, ok := err.(*ParseError); ok {
		return err
	}
	return &ParseError{Path: u.LoadPath, Line: 0, Reason: err.Error()}
}

var conditionNames = []string{
	"ConditionPathExists", "ConditionPathExistsGlob", "ConditionPathIsDirectory",
	"ConditionPathIsSymbolicLink", "ConditionPathIsMountPoint", "ConditionDirectoryNotEmpty",
	"ConditionFileNotEmpty", "ConditionFileIsExecutable", "ConditionKernelCommandLine",
	"ConditionKernelVersion", "ConditionVirtualization", "ConditionHost",
	"ConditionUser", "ConditionGroup", "ConditionFirstBoot", "ConditionNeedsUpdate",
	"ConditionACPower", "ConditionMemory", "ConditionCPUs", "ConditionEnvironment",
}

func parseConditions(f fields) ([]Condition, error) {
	var out []Condition
	for _, name := range conditionNames {
		for _, isAssert := range []bool{false, true} {
			key := name
			if isAssert {
				key = "Assert" + strings.TrimPrefix(name, "Condition")
			}
			for _, a := range f.list[key] {
				arg := a.value
				negate := strings.HasPrefix(arg, "!")
				if negate {
					arg = arg[1:]
				}
				out = append(out, Condition{
					Name:     strings.TrimPrefix(strings.TrimPrefix(key, "Condition"), "Assert"),
					Negate:   negate,
					Argument: arg,
					Assert:   isAssert,
				})
			}
		}
	}
	return out, nil
}

func buildService(f fields) (*Service, error) {
	s := &Service{}
	s.Type = ServiceType(f.scalar("Type", string(TypeSimple)))
	switch s.Type {
	case TypeSimple, TypeForking, TypeOneshot, TypeNotify, TypeNotifyReload, TypeDBus, TypeIdle:
	default:
		return nil, fmt.Errorf("invalid Type=%s", s.Type)
	}

	var err error
	if s.ExecStartPre, err = parseExecList(f, "ExecStartPre"); err != nil {
		return nil, err
	}
	if s.ExecStart, err = parseExecList(f, "ExecStart"); err != nil {
		return nil, err
	}
	if s.ExecStartPost, err = parseExecList(f, "ExecStartPost"); err != nil {
		return nil, err
	}
	if s.ExecReload, err = parseExecList(f, "ExecReload"); err != nil {
		return nil, err
	}
	if s.ExecStop, err = parseExecList(f, "ExecStop"); err != nil {
		return nil, err
	}
	if s.ExecStopPost, err = parseExecList(f, "ExecStopPost"); err != nil {
		return nil, err
	}

	s.Restart = RestartPolicy(f.scalar("Restart", string(RestartNo)))
	switch s.Restart {
	case RestartNo, RestartOnSuccess, RestartOnFailure, RestartOnAbnormal, RestartOnWatchdog, RestartOnAbort, RestartAlways:
	default:
		return nil, fmt.Errorf("invalid Restart=%s", s.Restart)
	}

	if s.RestartSec, err = parseDur(f, "RestartSec", "100ms"); err != nil {
		return nil, err
	}

	for _, v := range f.splitValues("RestartPreventExitStatus") {
		n, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		s.RestartPreventExitStatus = append(s.RestartPreventExitStatus, n)
	}

	// TimeoutSec= assigns both start and stop timeouts (Open Question
	// in spec.md §9, resolved as "applies to both").
	timeoutBoth, hasBoth := f.single["TimeoutSec"]
	if s.TimeoutStartSec, err = parseDur(f, "TimeoutStartSec", "90s"); err != nil {
		return nil, err
	}
	if s.TimeoutStopSec, err = parseDur(f, "TimeoutStopSec", "90s"); err != nil {
		return nil, err
	}
	if hasBoth {
		d, err := ParseDuration(timeoutBoth.value)
		if err != nil {
			return nil, err
		}
		s.TimeoutStartSec = d
		s.TimeoutStopSec = d
	}

	s.KillMode = KillMode(f.scalar("KillMode", string(KillControlGroup)))
	switch s.KillMode {
	case KillControlGroup, KillProcess, KillMixed, KillNone:
	default:
		return nil, fmt.Errorf("invalid KillMode=%s", s.KillMode)
	}
	if s.SendSIGHUP, err = f.boolean("SendSIGHUP", false); err != nil {
		return nil, err
	}
	if s.RemainAfterExit, err = f.boolean("RemainAfterExit", false); err != nil {
		return nil, err
	}
	if s.WatchdogSec, err = parseDur(f, "WatchdogSec", "0"); err != nil {
		return nil, err
	}
	s.NotifyAccess = NotifyAccess(f.scalar("NotifyAccess", string(NotifyNone)))

	s.User = f.scalar("User", "")
	s.Group = f.scalar("Group", "")
	if s.DynamicUser, err = f.boolean("DynamicUser", false); err != nil {
		return nil, err
	}
	s.SupplementaryGroups = f.splitValues("SupplementaryGroups")

	s.Environment = f.values("Environment")
	s.EnvironmentFiles = f.values("EnvironmentFile")
	s.UnsetEnvironment = f.splitValues("UnsetEnvironment")
	s.WorkingDirectory = f.scalar("WorkingDirectory", "")

	s.StandardInput = f.scalar("StandardInput", "null")
	s.StandardOutput = f.scalar("StandardOutput", "inherit")
	s.StandardError = f.scalar("StandardError", "inherit")

	s.Rlimits = parseRlimits(f)
	if v, ok := f.single["OOMScoreAdjust"]; ok {
		n, err := strconv.Atoi(v.value)
		if err != nil {
			return nil, fmt.Errorf("invalid OOMScoreAdjust=%s", v.value)
		}
		s.OOMScoreAdjust = &n
	}

	s.Slice = f.scalar("Slice", "")
	s.Sockets = f.splitValues("Sockets")
	s.BusName = f.scalar("BusName", "")
	s.PIDFile = f.scalar("PIDFile", "")

	s.StartLimit.Burst = atoiDefault(f.scalar("StartLimitBurst", ""), 5)
	if s.StartLimit.Interval, err = parseDur(f, "StartLimitIntervalSec", "10s"); err != nil {
		return nil, err
	}
	s.FileDescriptorStoreMax = atoiDefault(f.scalar("FileDescriptorStoreMax", ""), 0)

	sb, err := buildSandbox(f)
	if err != nil {
		return nil, err
	}
	s.Sandbox = sb

	return s, nil
}

func parseExecList(f fields, key string) ([]ExecCommand, error) {
	var out []ExecCommand
	for _, v := range f.values(key) {
		cmd, err := parseExecCommand(v)
		if err != nil {
			return nil, fmt.Errorf("%s=%s: %w", key, v, err)
		}
		out = append(out, cmd)
	}
	return out, nil
}

func parseDur(f fields, key, def string) (time.Duration, error) {
	v := f.scalar(key, def)
	return ParseDuration(v)
}

func parseRlimits(f fields) map[string]RlimitSpec {
	out := map[string]RlimitSpec{}
	for _, name := range rlimitNames {
		key := "Limit" + name
		v, ok := f.single[key]
		if !ok {
			continue
		}
		soft, hard := splitRlimitValue(v.value)
		out[name] = RlimitSpec{Soft: soft, Hard: hard}
	}
	return out
}

var rlimitNames = []string{
	"CPU", "FSIZE", "DATA", "STACK", "CORE", "RSS", "NOFILE", "AS",
	"NPROC", "MEMLOCK", "LOCKS", "SIGPENDING", "MSGQUEUE", "NICE",
	"RTPRIO", "RTTIME",
}

func splitRlimitValue(v string) (*uint64, *uint64) {
	parts := strings.SplitN(v, ":", 2)
	parseOne := func(s string) *uint64 {
		if s == "" || s == "infinity" {
			return nil
		}
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil
		}
		return &n
	}
	soft := parseOne(parts[0])
	if len(parts) == 1 {
		return soft, soft
	}
	return soft, parseOne(parts[1])
}

func buildSandbox(f fields) (Sandbox, error) {
	var sb Sandbox
	var err error

	sb.ProtectSystem = ProtectSystemMode(f.scalar("ProtectSystem", string(ProtectSystemNo)))
	sb.ProtectHome = ProtectHomeMode(f.scalar("ProtectHome", string(ProtectHomeNo)))

	boolFields := map[string]*bool{
		"PrivateTmp": &sb.PrivateTmp, "PrivateDevices": &sb.PrivateDevices,
		"PrivateNetwork": &sb.PrivateNetwork, "ProtectKernelModules": &sb.ProtectKernelModules,
		"ProtectKernelTunables": &sb.ProtectKernelTunables, "ProtectKernelLogs": &sb.ProtectKernelLogs,
		"ProtectControlGroups": &sb.ProtectControlGroups, "ProtectClock": &sb.ProtectClock,
		"ProtectHostname": &sb.ProtectHostname, "MemoryDenyWriteExecute": &sb.MemoryDenyWriteExecute,
		"LockPersonality": &sb.LockPersonality, "RestrictRealtime": &sb.RestrictRealtime,
		"RestrictSUIDSGID": &sb.RestrictSUIDSGID, "NoNewPrivileges": &sb.NoNewPrivileges,
	}
	for key, dst := range boolFields {
		if *dst, err = f.boolean(key, false); err != nil {
			return sb, err
		}
	}

	sb.ProtectProc = f.scalar("ProtectProc", "default")

	sb.ReadWritePaths = f.splitValues("ReadWritePaths")
	sb.ReadOnlyPaths = f.splitValues("ReadOnlyPaths")
	sb.InaccessiblePaths = f.splitValues("InaccessiblePaths")

	sb.CapabilityBoundingSet = f.splitValues("CapabilityBoundingSet")
	sb.AmbientCapabilities = f.splitValues("AmbientCapabilities")

	sb.SystemCallFilter = f.splitValues("SystemCallFilter")
	sb.SystemCallErrorNumber = f.scalar("SystemCallErrorNumber", "EPERM")
	sb.SystemCallArchitectures = f.splitValues("SystemCallArchitectures")
	sb.RestrictNamespaces = f.splitValues("RestrictNamespaces")
	sb.RestrictAddressFamilies = f.splitValues("RestrictAddressFamilies")

	sb.DevicePolicy = f.scalar("DevicePolicy", "auto")
	sb.DeviceAllow = f.splitValues("DeviceAllow")

	sb.RuntimeDirectory = parseDirSpec(f, "RuntimeDirectory")
	sb.StateDirectory = parseDirSpec(f, "StateDirectory")
	sb.CacheDirectory = parseDirSpec(f, "CacheDirectory")
	sb.LogsDirectory = parseDirSpec(f, "LogsDirectory")
	sb.ConfigurationDirectory = parseDirSpec(f, "ConfigurationDirectory")

	return sb, nil
}

func parseDirSpec(f fields, prefix string) DirectorySpec {
	var d DirectorySpec
	d.Paths = f.splitValues(prefix)
	mode := f.scalar(prefix+"Mode", "0755")
	if n, err := strconv.ParseUint(mode, 8, 32); err == nil {
		d.Mode = uint32(n)
	} else {
		d.Mode = 0755
	}
	d.Preserve, _ = f.boolean(prefix+"Preserve", false)
	return d
}

func buildSocket(f fields) (*Socket, error) {
	s := &Socket{}
	add := func(kind, key string) error {
		for _, v := range f.values(key) {
			s.Listeners = append(s.Listeners, Listener{Kind: kind, Address: v})
		}
		return nil
	}
	if err := add("stream", "ListenStream"); err != nil {
		return nil, err
	}
	if err := add("datagram", "ListenDatagram"); err != nil {
		return nil, err
	}
	if err := add("seqpacket", "ListenSequentialPacket"); err != nil {
		return nil, err
	}
	if err := add("fifo", "ListenFIFO"); err != nil {
		return nil, err
	}
	var err error
	if s.Accept, err = f.boolean("Accept", false); err != nil {
		return nil, err
	}
	s.Service = f.scalar("Service", "")
	mode := f.scalar("SocketMode", "0666")
	if n, err := strconv.ParseUint(mode, 8, 32); err == nil {
		s.Mode = uint32(n)
	} else {
		s.Mode = 0666
	}
	s.User = f.scalar("SocketUser", "")
	s.Group = f.scalar("SocketGroup", "")
	return s, nil
}

var timerTriggerKeys = map[string]string{
	"OnBootSec": "boot", "OnStartupSec": "startup", "OnActiveSec": "active",
	"OnUnitActiveSec": "unit-active", "OnUnitInactiveSec": "unit-inactive",
}

func buildTimer(f fields) (*Timer, error) {
	t := &Timer{}
	for _, expr := range f.values("OnCalendar") {
		t.Triggers = append(t.Triggers, TimerTrigger{Kind: "calendar", Expr: expr})
	}
	for key, kind := range timerTriggerKeys {
		for _, v := range f.values(key) {
			d, err := ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("%s=%s: %w", key, v, err)
			}
			t.Triggers = append(t.Triggers, TimerTrigger{Kind: kind, Offset: d})
		}
	}
	var err error
	if t.Persistent, err = f.boolean("Persistent", false); err != nil {
		return nil, err
	}
	if t.AccuracySec, err = parseDur(f, "AccuracySec", "1m"); err != nil {
		return nil, err
	}
	t.Unit = f.scalar("Unit", "")
	return t, nil
}

func buildMount(f fields) *Mount {
	return &Mount{
		What:    f.scalar("What", ""),
		Where:   f.scalar("Where", ""),
		Type:    f.scalar("Type", ""),
		Options: f.scalar("Options", "defaults"),
	}
}
