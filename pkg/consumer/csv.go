package consumer

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// rotatingCSV writes hourly-rotated CSV files named
// <base>_<YYYY>-<MM>-<DD>.<HH>.csv, with one header row written the first
// time each file is created. Every stream (samples, syscend, iorqend,
// kstacks, ustacks, cgroups) rotates the same way.
type rotatingCSV struct {
	dir        string
	streamName string
	header     []string

	curHour time.Time
	file    *os.File
	w       *csv.Writer
}

func newRotatingCSV(dir, streamName string, header []string) *rotatingCSV {
	return &rotatingCSV{dir: dir, streamName: streamName, header: header}
}

// WriteRow rotates the underlying file if the wall-clock hour has changed
// since the last write, then appends row. Rotation errors abort the
// current write and are returned; every Consumer call site discards the
// returned error, so a failed write is dropped without a warning.
func (r *rotatingCSV) WriteRow(now time.Time, row []string) error {
	hour := now.Truncate(time.Hour)
	if r.file == nil || !hour.Equal(r.curHour) {
		if err := r.rotate(hour); err != nil {
			return err
		}
	}
	if err := r.w.Write(row); err != nil {
		return err
	}
	r.w.Flush()
	return r.w.Error()
}

func (r *rotatingCSV) rotate(hour time.Time) error {
	if r.file != nil {
		r.w.Flush()
		_ = r.file.Close()
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("rotatingCSV: mkdir %s: %w", r.dir, err)
	}
	name := fmt.Sprintf("%s_%s.csv", r.streamName, hour.Format("2006-01-02.15"))
	path := filepath.Join(r.dir, name)

	_, statErr := os.Stat(path)
	needHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("rotatingCSV: open %s: %w", path, err)
	}
	r.file = f
	r.w = csv.NewWriter(f)
	r.curHour = hour

	if needHeader {
		if err := r.w.Write(r.header); err != nil {
			return err
		}
		r.w.Flush()
	}
	return nil
}

// Close flushes and closes the currently open file, if any.
func (r *rotatingCSV) Close() error {
	if r.file == nil {
		return nil
	}
	r.w.Flush()
	err := r.w.Error()
	if cerr := r.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
