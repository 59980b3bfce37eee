//go:build linux

package sandbox

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/Osso/sysd/internal/unit"
)

// ApplyMountNamespace builds the private mount namespace directives
// (spec.md §4.4 steps 2-7): PrivateTmp, ProtectSystem, ProtectHome,
// ReadOnlyPaths/InaccessiblePaths/ReadWritePaths, bind-mounted. Must
// run in the forked child after CLONE_NEWNS (the caller unshares the
// mount namespace before calling this).
func ApplyMountNamespace(sb unit.Sandbox) error {
	if sb.PrivateTmp {
		if err := bindFresh("/tmp"); err != nil {
			return err
		}
	}

	switch sb.ProtectSystem {
	case unit.ProtectSystemYes:
		if err := bindReadOnly("/usr"); err != nil {
			return err
		}
		if err := bindReadOnly("/boot"); err != nil {
			return err
		}
	case unit.ProtectSystemFull:
		if err := bindReadOnly("/usr"); err != nil {
			return err
		}
		if err := bindReadOnly("/boot"); err != nil {
			return err
		}
		if err := bindReadOnly("/etc"); err != nil {
			return err
		}
	case unit.ProtectSystemStrict:
		if err := bindReadOnly("/"); err != nil {
			return err
		}
	}

	if sb.ProtectHome == unit.ProtectHomeYes {
		if err := bindInaccessible("/home"); err != nil {
			return err
		}
		if err := bindInaccessible("/root"); err != nil {
			return err
		}
	}

	for _, p := range sb.InaccessiblePaths {
		if err := bindInaccessible(p); err != nil {
			return err
		}
	}
	for _, p := range sb.ReadOnlyPaths {
		if err := bindReadOnly(p); err != nil {
			return err
		}
	}
	for _, p := range sb.ReadWritePaths {
		if err := bindReadWrite(p); err != nil {
			return err
		}
	}

	return nil
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func bindReadOnly(path string) error {
	if !exists(path) {
		return nil
	}
	if err := unix.Mount(path, path, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("sandbox: bind %s: %w", path, err)
	}
	if err := unix.Mount("", path, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("sandbox: remount ro %s: %w", path, err)
	}
	return nil
}

func bindReadWrite(path string) error {
	if !exists(path) {
		return nil
	}
	if err := unix.Mount(path, path, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("sandbox: bind %s: %w", path, err)
	}
	return nil
}

func bindInaccessible(path string) error {
	if !exists(path) {
		return nil
	}
	if err := unix.Mount("tmpfs", path, "tmpfs", unix.MS_NOSUID, "mode=0000,size=0"); err != nil {
		return fmt.Errorf("sandbox: mask %s: %w", path, err)
	}
	if err := unix.Mount("", path, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY, ""); err != nil {
		return fmt.Errorf("sandbox: remount ro %s: %w", path, err)
	}
	return nil
}

// bindFresh replaces path with a fresh empty tmpfs, for PrivateTmp=yes.
func bindFresh(path string) error {
	if err := os.MkdirAll(path, 0o1777); err != nil {
		return fmt.Errorf("sandbox: mkdir %s: %w", path, err)
	}
	if err := unix.Mount("tmpfs", path, "tmpfs", unix.MS_NOSUID|unix.MS_NODEV, "mode=1777"); err != nil {
		return fmt.Errorf("sandbox: fresh tmpfs %s: %w", path, err)
	}
	return nil
}
