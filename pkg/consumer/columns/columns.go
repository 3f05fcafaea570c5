// Package columns implements the declarative column-table renderer: each
// column is a {name, header, width, format} tuple, and four predefined
// column sets (narrow, normal, wide, all) map to concrete column lists.
package columns

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tanelpoder/xcapture-go/pkg/xcapture"
)

// Column is one renderable field of a TaskSample.
type Column struct {
	Name   string
	Header string
	Width  int
	Format func(xcapture.TaskSample) string
}

var registry = []Column{
	{"timestamp", "TIMESTAMP", 19, func(s xcapture.TaskSample) string {
		return s.SampleWallclock.Format("2006-01-02 15:04:05")
	}},
	{"tid", "TID", 7, func(s xcapture.TaskSample) string { return strconv.Itoa(s.Tid) }},
	{"tgid", "TGID", 7, func(s xcapture.TaskSample) string { return strconv.Itoa(s.Tgid) }},
	{"pidns", "PIDNS", 10, func(s xcapture.TaskSample) string { return strconv.FormatUint(s.PIDNSID, 10) }},
	{"cgroup_id", "CGROUP_ID", 10, func(s xcapture.TaskSample) string { return strconv.FormatUint(s.CgroupID, 10) }},
	{"state", "STATE", 9, func(s xcapture.TaskSample) string {
		return s.State.String() + s.SchedSubstate.Suffix()
	}},
	{"uid", "UID", 6, func(s xcapture.TaskSample) string { return strconv.Itoa(s.EffectiveUID) }},
	{"exe", "EXE", 16, func(s xcapture.TaskSample) string { return s.Exe }},
	{"comm", "COMM", 16, func(s xcapture.TaskSample) string { return s.Comm }},
	{"syscall", "SYSCALL", 16, func(s xcapture.TaskSample) string { return syscallName(s.SyscallNr) }},
	{"syscall_active", "SYSCALL_ACTIVE", 16, func(s xcapture.TaskSample) string { return syscallName(s.SyscallActiveNr) }},
	{"sysc_entry_time", "SYSC_ENTRY_TIME", 19, func(s xcapture.TaskSample) string {
		if s.SyscallEnterWallclock.IsZero() {
			return "-"
		}
		return s.SyscallEnterWallclock.Format("2006-01-02 15:04:05")
	}},
	{"sysc_ns_so_far", "SYSC_NS_SO_FAR", 14, func(s xcapture.TaskSample) string {
		return strconv.FormatInt(s.SyscallNsSoFar.Nanoseconds(), 10)
	}},
	{"sysc_seq_num", "SYSC_SEQ_NUM", 12, func(s xcapture.TaskSample) string {
		return strconv.FormatUint(s.SyscallSeqNum, 10)
	}},
	{"iorq_seq_num", "IORQ_SEQ_NUM", 12, func(s xcapture.TaskSample) string {
		return strconv.FormatUint(s.IorqSeqNum, 10)
	}},
	{"syscall_args", "SYSC_ARGS", 40, func(s xcapture.TaskSample) string { return formatArgs(s.SyscallArgs) }},
	{"filename", "FILENAME", 24, func(s xcapture.TaskSample) string { return dashIfEmpty(s.Filename) }},
	{"connection", "CONNECTION", 30, func(s xcapture.TaskSample) string { return dashIfEmpty(s.Connection.String()) }},
	{"conn_state", "CONN_STATE", 12, func(s xcapture.TaskSample) string { return dashIfEmpty(s.ConnState) }},
	{"extra_info", "EXTRA_INFO", 40, func(s xcapture.TaskSample) string { return dashIfEmpty(s.Extra.String()) }},
	{"kstack_hash", "KSTACK_HASH", 18, func(s xcapture.TaskSample) string { return hashOrDash(s.KstackHash) }},
	{"ustack_hash", "USTACK_HASH", 18, func(s xcapture.TaskSample) string { return hashOrDash(s.UstackHash) }},
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func hashOrDash(h uint64) string {
	if h == 0 {
		return "-"
	}
	return fmt.Sprintf("%016x", h)
}

func formatArgs(args [6]uint64) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprintf("%#x", a)
	}
	return strings.Join(parts, " ")
}

// byName indexes the registry for O(1) lookups by column name.
var byName = func() map[string]Column {
	m := make(map[string]Column, len(registry))
	for _, c := range registry {
		m[c.Name] = c
	}
	return m
}()

// Lookup returns the column definition named name, or false if unknown.
func Lookup(name string) (Column, bool) {
	c, ok := byName[name]
	return c, ok
}

// predefined column sets: narrow/normal/wide/all.
var (
	Narrow = []string{"timestamp", "tid", "state", "comm", "syscall", "filename"}
	Normal = []string{
		"timestamp", "tid", "tgid", "state", "uid", "comm", "syscall",
		"syscall_args", "filename", "connection", "extra_info",
	}
	Wide = []string{
		"timestamp", "tid", "tgid", "pidns", "cgroup_id", "state", "uid", "exe", "comm",
		"syscall", "syscall_active", "syscall_args", "filename", "connection", "conn_state",
		"extra_info", "kstack_hash", "ustack_hash",
	}
	All = func() []string {
		names := make([]string, len(registry))
		for i, c := range registry {
			names[i] = c.Name
		}
		return names
	}()
)

// Set resolves a predefined set name ("narrow", "normal", "wide", "all") to
// its concrete column list, or false if unrecognized.
func Set(name string) ([]string, bool) {
	switch name {
	case "narrow":
		return Narrow, true
	case "normal":
		return Normal, true
	case "wide":
		return Wide, true
	case "all":
		return All, true
	default:
		return nil, false
	}
}

// Resolve validates a list of column names, returning an error naming the
// first unknown column — unknown column names are a hard error for both
// -g and -G.
func Resolve(names []string) ([]Column, error) {
	out := make([]Column, 0, len(names))
	for _, n := range names {
		c, ok := Lookup(n)
		if !ok {
			return nil, fmt.Errorf("columns: unknown column %q", n)
		}
		out = append(out, c)
	}
	return out, nil
}

// CSVColumns is the fixed, complete column set every CSV stream uses,
// independent of the stdout -g/-G selection.
var CSVColumns = []string{
	"timestamp", "tid", "tgid", "pidns", "cgroup_id", "state", "uid", "exe", "comm",
	"syscall", "syscall_active", "sysc_entry_time", "sysc_ns_so_far", "sysc_seq_num",
	"iorq_seq_num", "syscall_args", "filename", "connection", "conn_state", "extra_info",
	"kstack_hash", "ustack_hash",
}
