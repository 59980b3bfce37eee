package supervisor

import "time"

// ActiveState is the coarse unit state spec.md §4.3 exposes externally.
type ActiveState string

const (
	StateInactive     ActiveState = "inactive"
	StateActivating   ActiveState = "activating"
	StateActive       ActiveState = "active"
	StateReloading    ActiveState = "reloading"
	StateDeactivating ActiveState = "deactivating"
	StateFailed       ActiveState = "failed"
)

// SubState is the fine-grained state within an ActiveState, the same
// level of detail "systemctl status" reports (spec.md §4.3).
type SubState string

const (
	SubDead            SubState = "dead"
	SubStartPre        SubState = "start-pre"
	SubStart           SubState = "start"
	SubStartPost       SubState = "start-post"
	SubRunning         SubState = "running"
	SubExited          SubState = "exited"
	SubReload          SubState = "reload"
	SubStop            SubState = "stop"
	SubStopPost        SubState = "stop-post"
	SubStopSigterm     SubState = "stop-sigterm"
	SubStopSigkill     SubState = "stop-sigkill"
	SubFailed          SubState = "failed"
	SubAutoRestart     SubState = "auto-restart"
)

// UnitStatus is the live runtime status of one supervised unit, the
// record returned to the control surface for ListUnits/GetUnit.
type UnitStatus struct {
	Name       string
	Active     ActiveState
	Sub        SubState
	MainPID    int
	Result     string // "success", "exit-code", "signal", "timeout", "watchdog", "resources"
	ExecutedAt time.Time
	InvocationID string
}

// transition moves the unit along one edge of the state machine by
// setting ActiveState and SubState together; the Supervisor methods
// pick each edge of systemd's progression (start-pre -> start ->
// start-post -> running) -> ... -> dead.
func (u *UnitStatus) transition(active ActiveState, sub SubState) {
	u.Active = active
	u.Sub = sub
}
