//go:build linux

package supervisor

import (
	"context"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/containerd/log"
)

// notifySocketPrefix picks a per-unit abstract socket path so every
// supervised unit gets its own NOTIFY_SOCKET rather than sharing one
// global listener, which would require demultiplexing by peer pid
// ourselves; abstract sockets need no cleanup on the unit's exit.
const notifySocketPrefix = "@sysd/notify/"

// NotifyListener receives sd_notify(3) datagrams from one unit's
// processes. The wire format and variable names (READY=1, STATUS=,
// MAINPID=, WATCHDOG=1, RELOADING=1) are coreos/go-systemd/v22/daemon's
// own vocabulary (daemon.SdNotify), which this repo's service side uses
// to talk to itself: the supervisor is both notify-socket client
// (during its own PID 1 startup, if ever run as such) and server (for
// every unit's NotifyAccess=).
type NotifyListener struct {
	unitName string
	conn     *net.UnixConn
	path     string
}

// ListenNotify opens the per-unit notify socket and returns both the
// listener and the NOTIFY_SOCKET= environment value to export into the
// unit's process environment.
func ListenNotify(unitName string) (*NotifyListener, string, error) {
	path := notifySocketPrefix + unitName
	addr := &net.UnixAddr{Name: path, Net: "unixgram"}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return nil, "", err
	}
	return &NotifyListener{unitName: unitName, conn: conn, path: path}, path, nil
}

func (n *NotifyListener) Close() error {
	return n.conn.Close()
}

// NotifyMessage is one parsed sd_notify datagram.
type NotifyMessage struct {
	Fields  map[string]string
	Ready   bool
	Reloading bool
	Stopping bool
	Status  string
	MainPID int
	Watchdog bool
	Errno   int
}

// Serve reads datagrams until ctx is canceled, delivering each parsed
// message to onMessage. Unparseable or empty reads are skipped rather
// than treated as fatal, since a misbehaving unit should not take down
// the supervisor loop.
func (n *NotifyListener) Serve(ctx context.Context, onMessage func(NotifyMessage)) {
	buf := make([]byte, 4096)
	go func() {
		<-ctx.Done()
		n.conn.Close()
	}()
	for {
		nr, err := n.conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.L.WithError(err).WithField("unit", n.unitName).Debug("notify socket read")
			return
		}
		if nr == 0 {
			continue
		}
		onMessage(parseNotify(string(buf[:nr])))
	}
}

func parseNotify(payload string) NotifyMessage {
	msg := NotifyMessage{Fields: map[string]string{}}
	for _, line := range strings.Split(payload, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		kv := strings.SplitN(line, "=", 2)
		if len(kv) != 2 {
			continue
		}
		msg.Fields[kv[0]] = kv[1]
	}
	msg.Ready = msg.Fields["READY"] == "1"
	msg.Reloading = msg.Fields["RELOADING"] == "1"
	msg.Stopping = msg.Fields["STOPPING"] == "1"
	msg.Status = msg.Fields["STATUS"]
	msg.Watchdog = msg.Fields["WATCHDOG"] == "1"
	if v, ok := msg.Fields["MAINPID"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			msg.MainPID = n
		}
	}
	if v, ok := msg.Fields["ERRNO"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			msg.Errno = n
		}
	}
	return msg
}

// selfNotify reports our own readiness upward, used when sysd itself
// runs under a supervisor (tests, or a nested sysd) rather than as PID 1.
func selfNotify(state string) {
	if ok, _ := daemon.SdNotify(false, state); !ok {
		if os.Getenv("NOTIFY_SOCKET") != "" {
			log.L.Debug("NOTIFY_SOCKET set but sd_notify delivery failed")
		}
	}
}
