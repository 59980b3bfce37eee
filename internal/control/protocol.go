// Package control implements the Unix-socket control protocol
// (spec.md §6 "Control socket"): a length-prefixed, gob-encoded
// tagged-variant request/response exchange, authenticated via
// SO_PEERCRED, that the CLI (and anything else local) talks to drive
// the same engine the D-Bus bridge (internal/control/dbusbridge)
// exposes remotely.
package control

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
)

// RequestKind tags the variant carried by one Request.
type RequestKind string

const (
	ReqPing          RequestKind = "Ping"
	ReqList          RequestKind = "List"
	ReqStatus        RequestKind = "Status"
	ReqStart         RequestKind = "Start"
	ReqStop          RequestKind = "Stop"
	ReqRestart       RequestKind = "Restart"
	ReqReload        RequestKind = "Reload"
	ReqEnable        RequestKind = "Enable"
	ReqDisable       RequestKind = "Disable"
	ReqIsEnabled     RequestKind = "IsEnabled"
	ReqDeps          RequestKind = "Deps"
	ReqGetBootTarget RequestKind = "GetBootTarget"
	ReqSwitchTarget  RequestKind = "SwitchTarget"
	ReqSync          RequestKind = "Sync"
	ReqParse         RequestKind = "Parse"
)

// Request is the tagged-variant payload spec.md §6 describes; only the
// fields relevant to Kind are populated.
type Request struct {
	Kind   RequestKind
	Name   string
	Mode   string // job mode for Start/Stop/Restart: "replace"|"fail"|"isolate"|"ignore-dependencies"
	Filter string // List[filter]
	Path   string // Parse(path)
}

// ResponseKind tags the variant carried by one Response.
type ResponseKind string

const (
	RespOk    ResponseKind = "Ok"
	RespUnits ResponseKind = "Units"
	RespUnit  ResponseKind = "UnitInfo"
	RespErr   ResponseKind = "Error"
)

// UnitInfo is one entry of RespUnits/RespUnit, the wire shape of a
// unit's runtime status.
type UnitInfo struct {
	Name       string
	LoadState  string
	Active     string
	Sub        string
	Description string
	MainPID    int
}

// Response is the tagged-variant reply.
type Response struct {
	Kind  ResponseKind
	Units []UnitInfo
	Unit  UnitInfo
	Err   ErrInfo
}

// ErrInfo carries the uniterr.Kind/message pair across the wire
// without the control package depending on internal/uniterr's
// concrete error type.
type ErrInfo struct {
	Kind string
	Msg  string
}

// maxFrame bounds a single record so a corrupt length prefix cannot
// make the reader allocate unbounded memory.
const maxFrame = 16 << 20

// WriteFrame gob-encodes v and writes it as one length-prefixed record.
func WriteFrame(w io.Writer, v any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return err
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(buf.Len()))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// ReadFrame reads one length-prefixed gob record into v.
func ReadFrame(r io.Reader, v any) error {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > maxFrame {
		return fmt.Errorf("control: frame too large (%d bytes)", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}
	return gob.NewDecoder(bytes.NewReader(body)).Decode(v)
}
