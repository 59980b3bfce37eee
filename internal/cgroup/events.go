//go:build linux

package cgroup

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/containerd/log"
)

// WatchEmpty watches <root>/<group>/cgroup.events and reports on empty
// whenever "populated 0" is observed, i.e. every process in the cgroup
// has exited (spec.md §4.5: "cgroup.events via inotify/poll for
// 'populated 0' -> cgroup-empty event").
func WatchEmpty(ctx context.Context, root, group string, empty chan<- struct{}) error {
	path := filepath.Join(root, group, "cgroup.events")

	if populated, err := readPopulated(path); err == nil && !populated {
		select {
		case empty <- struct{}{}:
		default:
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&fsnotify.Write == 0 {
					continue
				}
				populated, err := readPopulated(path)
				if err != nil {
					log.G(ctx).WithError(err).Warn("read cgroup.events")
					continue
				}
				if !populated {
					select {
					case empty <- struct{}{}:
					case <-ctx.Done():
						return
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.G(ctx).WithError(err).Warn("watch cgroup.events")
			}
		}
	}()
	return nil
}

func readPopulated(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 2 && fields[0] == "populated" {
			v, err := strconv.Atoi(fields[1])
			if err != nil {
				return false, err
			}
			return v != 0, nil
		}
	}
	return false, scanner.Err()
}
