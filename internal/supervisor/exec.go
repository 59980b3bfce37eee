//go:build linux

// The re-exec-into-a-hidden-subcommand shape below is grounded on the
// runc reference implementation in the example pack
// (kornnellio-runc-Go/cmd/init.go's hidden "init"/"exec-init" cobra
// commands): cmd/sysd exposes an equivalent hidden "exec-init"
// subcommand so sandbox construction (mount namespace, capabilities,
// seccomp) runs after fork but before the target binary's execve,
// since os/exec gives no hook to run code in that window.
package supervisor

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/Osso/sysd/internal/sandbox"
)

// ExecInitSubcommand is the hidden cmd/sysd subcommand name the
// supervisor re-execs itself as.
const ExecInitSubcommand = "exec-init"

// ExecRequest is handed to the exec-init child over a pipe (fd 3) so
// the parent never has to fork without exec: everything needed to
// build the sandbox and replace the child's own image lives in one
// gob-encoded value, consistent with this repo's control-socket
// framing choice of encoding/gob (SPEC_FULL.md §7).
type ExecRequest struct {
	Argv    []string
	Env     []string
	Dir     string
	UID     uint32
	GID     uint32
	Sandbox sandbox.Spec
}

func EncodeExecRequest(w io.Writer, req ExecRequest) error {
	return gob.NewEncoder(w).Encode(req)
}

func DecodeExecRequest(r io.Reader) (ExecRequest, error) {
	var req ExecRequest
	err := gob.NewDecoder(r).Decode(&req)
	return req, err
}

// RunExecInit is cmd/sysd's exec-init entry point: it decodes the
// request from fd 3, applies the sandbox, drops to the target
// identity, and replaces its own image with the real command. It never
// returns on success.
func RunExecInit() error {
	specFile := os.NewFile(3, "exec-request")
	if specFile == nil {
		return fmt.Errorf("supervisor: exec-init missing fd 3")
	}
	req, err := DecodeExecRequest(specFile)
	specFile.Close()
	if err != nil {
		return fmt.Errorf("supervisor: decode exec request: %w", err)
	}

	if err := req.Sandbox.Apply(4); err != nil {
		return err
	}

	if req.GID != 0 {
		if err := syscall.Setgid(int(req.GID)); err != nil {
			return fmt.Errorf("supervisor: setgid: %w", err)
		}
	}
	if req.UID != 0 {
		if err := syscall.Setuid(int(req.UID)); err != nil {
			return fmt.Errorf("supervisor: setuid: %w", err)
		}
	}
	if req.Dir != "" {
		if err := os.Chdir(req.Dir); err != nil {
			return fmt.Errorf("supervisor: chdir %s: %w", req.Dir, err)
		}
	}

	return syscall.Exec(req.Argv[0], req.Argv, req.Env)
}

// selfExe returns the path to re-exec for exec-init, following
// /proc/self/exe so a relocated or deleted-but-still-running binary
// still re-execs correctly.
func selfExe() string {
	if p, err := os.Readlink("/proc/self/exe"); err == nil {
		return p
	}
	p, err := os.Executable()
	if err != nil {
		return os.Args[0]
	}
	return p
}

// BuildCommand constructs the parent-side *exec.Cmd: it runs
// "<self> exec-init" with the ExecRequest written down a pipe on fd 3
// and an error-report pipe on fd 4, inheriting the stdio the caller
// has already resolved from StandardInput/Output/Error=.
func BuildCommand(req ExecRequest, stdin io.Reader, stdout, stderr io.Writer) (*exec.Cmd, *os.File, error) {
	reqR, reqW, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		reqR.Close()
		reqW.Close()
		return nil, nil, err
	}

	cmd := exec.Command(selfExe(), ExecInitSubcommand)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.ExtraFiles = []*os.File{reqR, errW}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	go func() {
		defer reqW.Close()
		_ = EncodeExecRequest(reqW, req)
	}()

	return cmd, errR, nil
}
