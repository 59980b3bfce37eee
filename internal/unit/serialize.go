package unit

import (
	"fmt"
	"strings"
)

// Serialize renders u back to INI text. It is not byte-identical to any
// particular source file — drop-ins collapse into the base section.
// Re-parsing the result reproduces the fields written here (the round-
// trip property in spec.md §8 holds for them). Fields not written come
// back at their defaults: sandbox directives, LimitXXX=, Standard*=,
// SendSIGHUP=, SupplementaryGroups=, EnvironmentFile=,
// UnsetEnvironment=, OOMScoreAdjust=, BusName=, PIDFile=,
// StartLimit*=, RestartPreventExitStatus=, FileDescriptorStoreMax=,
// SocketMode=/SocketUser=/SocketGroup= and DefaultInstance=. Exec*=
// arguments are joined with spaces and not re-quoted.
func Serialize(u *Unit) string {
	var b strings.Builder

	fmt.Fprintln(&b, "[Unit]")
	if u.Description != "" {
		fmt.Fprintf(&b, "Description=%s\n", u.Description)
	}
	for _, d := range u.Documentation {
		fmt.Fprintf(&b, "Documentation=%s\n", d)
	}
	writeList(&b, "After", u.Edges.After)
	writeList(&b, "Before", u.Edges.Before)
	writeList(&b, "Requires", u.Edges.Requires)
	writeList(&b, "Wants", u.Edges.Wants)
	writeList(&b, "BindsTo", u.Edges.BindsTo)
	writeList(&b, "Conflicts", u.Edges.Conflicts)
	writeList(&b, "PartOf", u.Edges.PartOf)
	writeList(&b, "Requisite", u.Edges.Requisite)
	fmt.Fprintf(&b, "DefaultDependencies=%s\n", yesno(u.DefaultDependencies))
	for _, c := range u.Conditions {
		prefix := "Condition"
		if c.Assert {
			prefix = "Assert"
		}
		arg := c.Argument
		if c.Negate {
			arg = "!" + arg
		}
		fmt.Fprintf(&b, "%s%s=%s\n", prefix, c.Name, arg)
	}
	b.WriteString("\n")

	switch u.Kind {
	case KindService, KindScope:
		writeService(&b, u.Service)
	case KindSocket:
		writeSocket(&b, u.Socket)
	case KindTimer:
		writeTimer(&b, u.Timer)
	case KindMount:
		writeMount(&b, u.Mount)
	}

	fmt.Fprintln(&b, "[Install]")
	writeList(&b, "WantedBy", u.Install.WantedBy)
	writeList(&b, "RequiredBy", u.Install.RequiredBy)
	writeList(&b, "Alias", u.Install.Alias)
	writeList(&b, "Also", u.Install.Also)

	return b.String()
}

func writeList(b *strings.Builder, key string, values []string) {
	for _, v := range values {
		fmt.Fprintf(b, "%s=%s\n", key, v)
	}
}

func yesno(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func writeExecList(b *strings.Builder, key string, cmds []ExecCommand) {
	for _, c := range cmds {
		prefix := ""
		if c.IgnoreFailure {
			prefix = "-"
		}
		fmt.Fprintf(b, "%s=%s%s\n", key, prefix, strings.Join(c.Args, " "))
	}
}

func writeService(b *strings.Builder, s *Service) {
	fmt.Fprintln(b, "[Service]")
	fmt.Fprintf(b, "Type=%s\n", s.Type)
	writeExecList(b, "ExecStartPre", s.ExecStartPre)
	writeExecList(b, "ExecStart", s.ExecStart)
	writeExecList(b, "ExecStartPost", s.ExecStartPost)
	writeExecList(b, "ExecReload", s.ExecReload)
	writeExecList(b, "ExecStop", s.ExecStop)
	writeExecList(b, "ExecStopPost", s.ExecStopPost)
	fmt.Fprintf(b, "Restart=%s\n", s.Restart)
	fmt.Fprintf(b, "RestartSec=%s\n", s.RestartSec)
	fmt.Fprintf(b, "TimeoutStartSec=%s\n", s.TimeoutStartSec)
	fmt.Fprintf(b, "TimeoutStopSec=%s\n", s.TimeoutStopSec)
	fmt.Fprintf(b, "KillMode=%s\n", s.KillMode)
	fmt.Fprintf(b, "RemainAfterExit=%s\n", yesno(s.RemainAfterExit))
	if s.WatchdogSec > 0 {
		fmt.Fprintf(b, "WatchdogSec=%s\n", s.WatchdogSec)
	}
	if s.NotifyAccess != "" {
		fmt.Fprintf(b, "NotifyAccess=%s\n", s.NotifyAccess)
	}
	if s.User != "" {
		fmt.Fprintf(b, "User=%s\n", s.User)
	}
	if s.Group != "" {
		fmt.Fprintf(b, "Group=%s\n", s.Group)
	}
	fmt.Fprintf(b, "DynamicUser=%s\n", yesno(s.DynamicUser))
	for _, e := range s.Environment {
		fmt.Fprintf(b, "Environment=%s\n", e)
	}
	if s.WorkingDirectory != "" {
		fmt.Fprintf(b, "WorkingDirectory=%s\n", s.WorkingDirectory)
	}
	if s.Slice != "" {
		fmt.Fprintf(b, "Slice=%s\n", s.Slice)
	}
	writeList(b, "Sockets", s.Sockets)
	b.WriteString("\n")
}

func writeSocket(b *strings.Builder, s *Socket) {
	fmt.Fprintln(b, "[Socket]")
	for _, l := range s.Listeners {
		key := map[string]string{"stream": "ListenStream", "datagram": "ListenDatagram", "seqpacket": "ListenSequentialPacket", "fifo": "ListenFIFO"}[l.Kind]
		fmt.Fprintf(b, "%s=%s\n", key, l.Address)
	}
	fmt.Fprintf(b, "Accept=%s\n", yesno(s.Accept))
	if s.Service != "" {
		fmt.Fprintf(b, "Service=%s\n", s.Service)
	}
	b.WriteString("\n")
}

func writeTimer(b *strings.Builder, t *Timer) {
	fmt.Fprintln(b, "[Timer]")
	for _, trig := range t.Triggers {
		if trig.Kind == "calendar" {
			fmt.Fprintf(b, "OnCalendar=%s\n", trig.Expr)
			continue
		}
		key := map[string]string{"boot": "OnBootSec", "startup": "OnStartupSec", "active": "OnActiveSec", "unit-active": "OnUnitActiveSec", "unit-inactive": "OnUnitInactiveSec"}[trig.Kind]
		fmt.Fprintf(b, "%s=%s\n", key, trig.Offset)
	}
	fmt.Fprintf(b, "Persistent=%s\n", yesno(t.Persistent))
	fmt.Fprintf(b, "AccuracySec=%s\n", t.AccuracySec)
	if t.Unit != "" {
		fmt.Fprintf(b, "Unit=%s\n", t.Unit)
	}
	b.WriteString("\n")
}

func writeMount(b *strings.Builder, m *Mount) {
	fmt.Fprintln(b, "[Mount]")
	fmt.Fprintf(b, "What=%s\n", m.What)
	fmt.Fprintf(b, "Where=%s\n", m.Where)
	if m.Type != "" {
		fmt.Fprintf(b, "Type=%s\n", m.Type)
	}
	if m.Options != "" {
		fmt.Fprintf(b, "Options=%s\n", m.Options)
	}
	b.WriteString("\n")
}
