package lode

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/justapithecus/llmer/types"
)

// StatsHeader is the first line of every statistics file.
const StatsHeader = "Total Tokens, Input Tokens, Output Tokens, Generation Time, CommandTypes, End Time"

// FileRecorder appends cycle statistics to a CSV file and the full turn list
// plus response to a parallel text log. Both files belong to one session.
type FileRecorder struct {
	mu       sync.Mutex
	statPath string
	logPath  string
}

// FileRecorderFactory creates FileRecorders under Dir.
type FileRecorderFactory struct {
	Dir string
}

// ForSession implements RecorderFactory.
func (f FileRecorderFactory) ForSession(sessionID string, start time.Time) (Recorder, error) {
	return NewFileRecorder(f.Dir, sessionID, start)
}

// SessionFileBase names a session's files: the local start stamp plus the
// first eight characters of the session ID, so sessions starting in the
// same second do not collide.
func SessionFileBase(sessionID string, start time.Time) string {
	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}
	return start.Format(types.StampFormat) + "-" + short
}

// NewFileRecorder creates the session's statistics file with its header and
// an empty text log.
func NewFileRecorder(dir, sessionID string, start time.Time) (*FileRecorder, error) {
	if err := validName(sessionID); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, WrapInitError(err, dir)
	}

	base := filepath.Join(dir, SessionFileBase(sessionID, start))
	r := &FileRecorder{
		statPath: base + ".csv",
		logPath:  base + ".txt",
	}

	if err := os.WriteFile(r.statPath, []byte(StatsHeader+"\n"), 0o644); err != nil {
		return nil, WrapInitError(err, r.statPath)
	}
	if err := os.WriteFile(r.logPath, nil, 0o644); err != nil {
		return nil, WrapInitError(err, r.logPath)
	}
	return r, nil
}

// StatPath returns the statistics file path.
func (r *FileRecorder) StatPath() string { return r.statPath }

// LogPath returns the text log path.
func (r *FileRecorder) LogPath() string { return r.logPath }

// RecordCycle appends one statistics row and one log entry.
func (r *FileRecorder) RecordCycle(_ context.Context, rec *types.CycleRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := appendFile(r.statPath, FormatStatsRow(rec)); err != nil {
		return err
	}

	turns, err := json.Marshal(rec.Turns)
	if err != nil {
		return fmt.Errorf("encode turns: %w", err)
	}
	return appendFile(r.logPath, string(turns)+"\n"+rec.Response+"\n")
}

// Close implements Recorder. Files are opened per append, so there is
// nothing to release.
func (r *FileRecorder) Close() error {
	return nil
}

// FormatStatsRow renders a record as one statistics line:
// total, input, output, latency, space-separated command log, end stamp.
func FormatStatsRow(rec *types.CycleRecord) string {
	return fmt.Sprintf("%d, %d, %d, %s, %s, %s\n",
		rec.TotalTokens,
		rec.InputTokens,
		rec.OutputTokens,
		strconv.FormatFloat(rec.LatencySeconds, 'f', -1, 64),
		strings.Join(rec.Commands, " "),
		rec.CompletedAt.Format(types.StampFormat),
	)
}

func appendFile(path, data string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return WrapWriteError(err, path)
	}
	if _, err := f.WriteString(data); err != nil {
		_ = f.Close()
		return WrapWriteError(err, path)
	}
	return WrapWriteError(f.Close(), path)
}

// validName rejects IDs that would escape their directory.
func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid session id %q", name)
	}
	return nil
}

var (
	_ Recorder        = (*FileRecorder)(nil)
	_ RecorderFactory = FileRecorderFactory{}
)
