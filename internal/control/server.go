//go:build linux

package control

import (
	"context"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/containerd/log"

	"github.com/Osso/sysd/internal/job"
	"github.com/Osso/sysd/internal/uniterr"
	"github.com/Osso/sysd/internal/unit"
)

// Engine is the subset of *job.Engine the control server drives.
type Engine interface {
	Enqueue(ctx context.Context, root string, dir job.Direction, mode job.Mode) (*job.Result, error)
	Sync(ctx context.Context) error
}

// Registry is the subset of *unit.Registry the control server reads
// unit metadata from.
type Registry interface {
	Get(name string) (*unit.Entry, error)
	List() []*unit.Entry
}

// Server accepts control-socket connections at path, authenticates
// peers via SO_PEERCRED, and dispatches requests into engine/registry
// (spec.md §6 "Control socket").
type Server struct {
	path     string
	listener *net.UnixListener
	engine   Engine
	registry Registry
	allowUID func(uid uint32) bool
}

// New binds the control socket at path. allowUID may be nil, in which
// case every local peer is authorized (the socket's own file
// permissions are the only gate, matching a single-user system mode
// instance); a non-nil allowUID lets user-mode instances restrict to
// their own uid.
func New(path string, engine Engine, registry Registry, allowUID func(uint32) bool) (*Server, error) {
	os.Remove(path)
	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, err
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("control: listen %s: %w", path, err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		ln.Close()
		return nil, err
	}
	return &Server{path: path, listener: ln, engine: engine, registry: registry, allowUID: allowUID}, nil
}

func (s *Server) Close() error {
	err := s.listener.Close()
	os.Remove(s.path)
	return err
}

// Serve accepts connections until ctx is canceled.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()
	for {
		conn, err := s.listener.AcceptUnix()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn *net.UnixConn) {
	defer conn.Close()

	uid, err := peerUID(conn)
	if err != nil {
		log.G(ctx).WithError(err).Warn("control: peer credential lookup failed")
		return
	}
	if s.allowUID != nil && !s.allowUID(uid) {
		WriteFrame(conn, Response{Kind: RespErr, Err: ErrInfo{Kind: string(uniterr.KindPermissionDenied), Msg: "peer not authorized"}})
		return
	}

	for {
		var req Request
		if err := ReadFrame(conn, &req); err != nil {
			return
		}
		resp := s.dispatch(ctx, req)
		if err := WriteFrame(conn, resp); err != nil {
			return
		}
	}
}

// peerUID reads SO_PEERCRED off the connection's underlying fd,
// spec.md §6's authentication mechanism.
func peerUID(conn *net.UnixConn) (uint32, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var uid uint32
	var ucredErr error
	err = raw.Control(func(fd uintptr) {
		ucred, err := unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
		if err != nil {
			ucredErr = err
			return
		}
		uid = ucred.Uid
	})
	if err != nil {
		return 0, err
	}
	return uid, ucredErr
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	switch req.Kind {
	case ReqPing:
		return Response{Kind: RespOk}
	case ReqList:
		return s.list()
	case ReqStatus:
		return s.status(req.Name)
	case ReqStart:
		return s.runJob(ctx, req.Name, job.DirStart, req.Mode)
	case ReqStop:
		return s.runJob(ctx, req.Name, job.DirStop, req.Mode)
	case ReqRestart:
		return s.runJob(ctx, req.Name, job.DirRestart, req.Mode)
	case ReqReload:
		return s.runJob(ctx, req.Name, job.DirReload, req.Mode)
	case ReqSync:
		if err := s.engine.Sync(ctx); err != nil {
			return errResponse(err)
		}
		return Response{Kind: RespOk}
	default:
		return Response{Kind: RespErr, Err: ErrInfo{Kind: "not-found", Msg: fmt.Sprintf("unsupported request %q", req.Kind)}}
	}
}

func (s *Server) runJob(ctx context.Context, name string, dir job.Direction, modeStr string) Response {
	mode := parseMode(modeStr)
	result, err := s.engine.Enqueue(ctx, name, dir, mode)
	if err != nil {
		return errResponse(err)
	}
	select {
	case <-result.Job.Done():
	case <-ctx.Done():
		return errResponse(ctx.Err())
	}
	if err := result.Job.Err(); err != nil {
		return errResponse(err)
	}
	return Response{Kind: RespOk}
}

func parseMode(s string) job.Mode {
	switch s {
	case "fail":
		return job.ModeFail
	case "isolate":
		return job.ModeIsolate
	case "ignore-dependencies":
		return job.ModeIgnoreDependencies
	default:
		return job.ModeReplace
	}
}

func (s *Server) list() Response {
	var out []UnitInfo
	for _, e := range s.registry.List() {
		out = append(out, unitInfoOf(e))
	}
	return Response{Kind: RespUnits, Units: out}
}

func (s *Server) status(name string) Response {
	entry, err := s.registry.Get(name)
	if err != nil {
		return errResponse(err)
	}
	return Response{Kind: RespUnit, Unit: unitInfoOf(entry)}
}

func unitInfoOf(e *unit.Entry) UnitInfo {
	info := UnitInfo{Name: e.Name, LoadState: string(e.LoadState)}
	if e.Unit != nil {
		info.Description = e.Unit.Description
	}
	return info
}

func errResponse(err error) Response {
	kind := "unknown"
	if k := uniterr.KindOf(err); k != "" {
		kind = string(k)
	}
	return Response{Kind: RespErr, Err: ErrInfo{Kind: kind, Msg: err.Error()}}
}
