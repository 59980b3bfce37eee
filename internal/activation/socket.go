//go:build linux

// Package activation builds the listening sockets a .socket unit
// describes (spec.md §4.2 "socket activation") and hands them to the
// matching service's process as LISTEN_FDS/LISTEN_PID/LISTEN_FDNAMES,
// the protocol sd_listen_fds(3) defines and
// github.com/coreos/go-systemd/v22/activation parses on the receiving
// side. This package is the producer half of that protocol (allocate
// and export), which coreos/go-systemd/v22 does not itself implement -
// only its consumer-side activation.Files helper does - so the
// constant names below (not the code) are grounded on that package's
// vocabulary.
package activation

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/Osso/sysd/internal/unit"
)

const listenFdsStart = 3

// Listeners builds one *os.File per Listen*= directive, in declaration
// order, ready to be passed to the activated service as inherited file
// descriptors starting at fd 3.
func Listeners(sock *unit.Socket) ([]*os.File, error) {
	files := make([]*os.File, 0, len(sock.Listeners))
	for _, l := range sock.Listeners {
		f, err := buildListener(l, sock)
		if err != nil {
			for _, opened := range files {
				opened.Close()
			}
			return nil, fmt.Errorf("activation: %s %s: %w", l.Kind, l.Address, err)
		}
		files = append(files, f)
	}
	return files, nil
}

func buildListener(l unit.Listener, sock *unit.Socket) (*os.File, error) {
	switch l.Kind {
	case "stream":
		return streamListener(l.Address, sock)
	case "datagram":
		return datagramListener(l.Address, sock)
	case "seqpacket":
		return seqpacketListener(l.Address)
	case "fifo":
		return fifoListener(l.Address, sock)
	default:
		return nil, fmt.Errorf("unsupported listener kind %q", l.Kind)
	}
}

func streamListener(addr string, sock *unit.Socket) (*os.File, error) {
	network, address := classify(addr)
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}
	defer ln.Close()
	if network == "unix" {
		chmodSocket(address, sock)
	}
	return fileOf(ln)
}

func datagramListener(addr string, sock *unit.Socket) (*os.File, error) {
	network, address := classify(addr)
	if network == "tcp" {
		network = "udp"
	}
	if network == "unix" {
		network = "unixgram"
	}
	pc, err := net.ListenPacket(network, address)
	if err != nil {
		return nil, err
	}
	defer pc.Close()
	if network == "unixgram" {
		chmodSocket(address, sock)
	}
	return fileOf(pc)
}

// seqpacketListener has no net.Listener equivalent in the standard
// library, so it is built directly with golang.org/x/sys/unix, the
// same package the sandbox mount/namespace code already depends on.
func seqpacketListener(path string) (*os.File, error) {
	os.Remove(path)
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		return nil, err
	}
	sa := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return os.NewFile(uintptr(fd), path), nil
}

func fifoListener(path string, sock *unit.Socket) (*os.File, error) {
	os.Remove(path)
	mode := os.FileMode(sock.Mode)
	if mode == 0 {
		mode = 0666
	}
	if err := syscall.Mkfifo(path, uint32(mode)); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_RDWR, 0)
}

// classify turns a ListenStream=-style address into (network, address)
// for net.Listen: a leading "/" or "@" means a unix (abstract) socket,
// otherwise it is "[host]:port" or ":port".
func classify(addr string) (string, string) {
	if strings.HasPrefix(addr, "/") || strings.HasPrefix(addr, "@") {
		return "unix", addr
	}
	return "tcp", addr
}

func chmodSocket(path string, sock *unit.Socket) {
	if strings.HasPrefix(path, "@") {
		return
	}
	mode := sock.Mode
	if mode == 0 {
		mode = 0666
	}
	os.Chmod(path, os.FileMode(mode))
}

type filer interface {
	File() (*os.File, error)
}

func fileOf(v any) (*os.File, error) {
	f, ok := v.(filer)
	if !ok {
		return nil, fmt.Errorf("listener has no backing file descriptor")
	}
	return f.File()
}

// Env builds the LISTEN_FDS/LISTEN_PID/LISTEN_FDNAMES environment
// triple a service process expects to find, per sd_listen_fds(3); pid
// is the activated process's own pid, since systemd's protocol
// requires LISTEN_PID to match the receiving process exactly.
func Env(pid int, names []string, count int) []string {
	return []string{
		"LISTEN_FDS=" + strconv.Itoa(count),
		"LISTEN_PID=" + strconv.Itoa(pid),
		"LISTEN_FDNAMES=" + strings.Join(names, ":"),
	}
}

// FirstFD is the fd number the first inherited listener lands on once
// os/exec.Cmd.ExtraFiles places them contiguously after stdin/out/err.
const FirstFD = listenFdsStart
