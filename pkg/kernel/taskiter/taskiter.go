//go:build linux

// Package taskiter enumerates the live kernel tasks the Sampler considers
// each tick and applies the cheap, allocation-light "fast path" filter
// before any enrichment work happens. It is the Go-native stand-in for the
// sleepable BPF task iterator.
package taskiter

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tanelpoder/xcapture-go/internal/procfs"
)

// Filter carries the cheap, pre-enrichment exclusion rules.
type Filter struct {
	// OwnPid excludes every task belonging to the running process itself.
	OwnPid int
	// TGIDFilter restricts the walk to one thread group; 0 means no filter.
	TGIDFilter int
	// TidFilter restricts the walk to one exact tid; 0 means no filter.
	TidFilter int
}

// Task is one live task surviving the fast-path filter, with its raw stat
// already read (the walk is the only place that pays for the stat read).
type Task struct {
	Tid, Tgid int
	Comm      string
	Stat      procfs.Stat
	Flags     procfs.Flags
}

// Walk enumerates /proc/<pid>/task/<tid> for every process, applying the
// fast-path filter inline so rejected tasks never cost more than a Stat
// read. The returned slice order is unspecified (directory order).
func Walk(f Filter) ([]Task, error) {
	pidDirs, err := filepath.Glob("/proc/[0-9]*")
	if err != nil {
		return nil, err
	}

	var out []Task
	for _, pd := range pidDirs {
		pid, err := strconv.Atoi(filepath.Base(pd))
		if err != nil {
			continue
		}
		taskDirs, err := filepath.Glob(pd + "/task/[0-9]*")
		if err != nil {
			continue
		}
		for _, td := range taskDirs {
			tid, err := strconv.Atoi(filepath.Base(td))
			if err != nil {
				continue
			}
			if tid == f.OwnPid || pid == f.OwnPid {
				continue
			}

			st, err := procfs.ReadStat(tid)
			if err != nil {
				continue // task exited between the glob and the read
			}
			if f.TGIDFilter != 0 && pid != f.TGIDFilter {
				continue
			}
			if f.TidFilter != 0 && tid != f.TidFilter {
				continue
			}

			fl, err := procfs.ReadFlags(tid)
			if err != nil {
				continue
			}
			if fl.IsKernelThread && procfs.IsIdleWorker(st.Comm) {
				continue
			}

			out = append(out, Task{Tid: tid, Tgid: pid, Comm: st.Comm, Stat: st, Flags: fl})
		}
	}
	return out, nil
}

// ExeBasename resolves /proc/<tid>/exe and returns its final path element,
// empty for kernel threads (which have no executable link).
func ExeBasename(tid int) string {
	target, err := os.Readlink("/proc/" + strconv.Itoa(tid) + "/exe")
	if err != nil {
		return ""
	}
	target = strings.TrimSuffix(target, " (deleted)")
	return filepath.Base(target)
}
