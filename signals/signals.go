// Package signals implements the on-disk state machine that coordinates
// pipeline stages. A signal is a small file named <key>.<status> in a flat
// directory, where key is a folder key (YYYY-MM or YYYY-MM-DD).
package signals

import (
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/JeffreyRichter/enum/enum"
	"github.com/pkg/errors"

	"github.com/fresco-hpc/fresco-etl/common"
)

var EStatus = Status(0)

// Status is the lifecycle state encoded in a signal filename.
// unknown → ready → processing → (complete|failed); complete → transferred.
type Status uint8

func (Status) Unknown() Status        { return Status(0) }
func (Status) Ready() Status          { return Status(1) }
func (Status) Processing() Status     { return Status(2) }
func (Status) Complete() Status       { return Status(3) }
func (Status) Failed() Status         { return Status(4) }
func (Status) Transferred() Status    { return Status(5) }
func (Status) TransferFailed() Status { return Status(6) }

// String returns the filename extension for the status.
func (s Status) String() string {
	if s == EStatus.TransferFailed() {
		return "transfer_failed"
	}
	return strings.ToLower(enum.StringInt(s, reflect.TypeOf(s)))
}

func (s *Status) Parse(raw string) error {
	if raw == "transfer_failed" {
		*s = EStatus.TransferFailed()
		return nil
	}
	val, err := enum.ParseInt(reflect.TypeOf(s), raw, true, true)
	if err == nil {
		*s = val.(Status)
	}
	return err
}

// Terminal reports whether no further transition out of s is expected,
// other than the complete→transferred hand-off.
func (s Status) Terminal() bool {
	switch s {
	case EStatus.Failed(), EStatus.Transferred(), EStatus.TransferFailed():
		return true
	}
	return false
}

var keyPattern = regexp.MustCompile(`^\d{4}-\d{2}(-\d{2})?$`)

// ValidKey reports whether key is a monthly (YYYY-MM) or daily (YYYY-MM-DD)
// folder key.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// Dir is a signal directory. All mutations go through temp-file + rename so
// a signal is either fully present or absent.
type Dir struct {
	path   string
	logger common.ILogger
}

func NewDir(path string, logger common.ILogger) (*Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, common.WrapError(common.EErrorKind.State(), err, "creating signal directory")
	}
	if logger == nil {
		logger = common.NewNopLogger()
	}
	return &Dir{path: path, logger: logger}, nil
}

func (d *Dir) Path() string { return d.path }

func (d *Dir) signalPath(key string, status Status) string {
	return filepath.Join(d.path, key+"."+status.String())
}

func (d *Dir) mark(key string, status Status, message string) error {
	if !ValidKey(key) {
		return common.NewErrorf(common.EErrorKind.State(), "invalid signal key %q", key)
	}
	if message == "" {
		message = "Status " + status.String() + " set at " + time.Now().UTC().Format(time.RFC3339)
	}
	if err := common.WriteFileAtomic(d.signalPath(key, status), []byte(message), 0o644); err != nil {
		return err
	}
	common.Logf(d.logger, common.ELogLevel.Debug(), "created %s signal for %s", status, key)
	return nil
}

func (d *Dir) remove(key string, status Status) {
	_ = os.Remove(d.signalPath(key, status))
}

// MarkReady announces that a folder's inputs are staged for processing.
func (d *Dir) MarkReady(key, message string) error {
	return d.mark(key, EStatus.Ready(), message)
}

// MarkProcessing claims exclusive ownership of a folder key.
func (d *Dir) MarkProcessing(key, message string) error {
	return d.mark(key, EStatus.Processing(), message)
}

// MarkComplete records successful processing and clears the now-stale
// ready/processing signals for the same key.
func (d *Dir) MarkComplete(key, message string) error {
	if err := d.mark(key, EStatus.Complete(), message); err != nil {
		return err
	}
	d.remove(key, EStatus.Ready())
	d.remove(key, EStatus.Processing())
	return nil
}

// MarkFailed records failure and clears ready/processing for the same key.
func (d *Dir) MarkFailed(key, message string) error {
	if err := d.mark(key, EStatus.Failed(), message); err != nil {
		return err
	}
	d.remove(key, EStatus.Ready())
	d.remove(key, EStatus.Processing())
	return nil
}

// MarkTransferred is the terminal hand-off. verify must confirm the output
// has been durably copied; the signal is only created when it returns nil.
func (d *Dir) MarkTransferred(key string, verify func() error) error {
	if verify != nil {
		if err := verify(); err != nil {
			return common.WrapError(common.EErrorKind.Transfer(), err, "refusing to mark "+key+" transferred")
		}
	}
	return d.mark(key, EStatus.Transferred(), "")
}

// MarkTransferFailed records that all transfer retries were exhausted.
func (d *Dir) MarkTransferFailed(key, message string) error {
	return d.mark(key, EStatus.TransferFailed(), message)
}

// Remove deletes the signal for (key, status) if present.
func (d *Dir) Remove(key string, status Status) {
	d.remove(key, status)
}

// Exists reports whether the signal for (key, status) is present.
func (d *Dir) Exists(key string, status Status) bool {
	_, err := os.Stat(d.signalPath(key, status))
	return err == nil
}

// MTime returns the modification time of a signal, or the zero time when absent.
func (d *Dir) MTime(key string, status Status) time.Time {
	info, err := os.Stat(d.signalPath(key, status))
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// IsStale reports whether the signal in stateA is newer than the one in
// stateB for the same key. Missing signals are treated as infinitely old.
func (d *Dir) IsStale(key string, stateA, stateB Status) bool {
	return d.MTime(key, stateA).After(d.MTime(key, stateB))
}

// Status resolves the current state of a key. When contradictory ready and
// processing signals coexist, processing wins: the ready signal is stale.
func (d *Dir) Status(key string) Status {
	for _, s := range []Status{
		EStatus.Complete(),
		EStatus.Failed(),
		EStatus.Processing(),
		EStatus.Ready(),
	} {
		if d.Exists(key, s) {
			return s
		}
	}
	return EStatus.Unknown()
}

// ListByStatus returns the sorted keys currently carrying the given status.
func (d *Dir) ListByStatus(status Status) ([]string, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, errors.Wrap(err, "listing signal directory")
	}
	ext := "." + status.String()
	var keys []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ext) {
			continue
		}
		key := strings.TrimSuffix(name, ext)
		if ValidKey(key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Message returns the UTF-8 body of a signal file, or "" when absent.
func (d *Dir) Message(key string, status Status) string {
	data, err := os.ReadFile(d.signalPath(key, status))
	if err != nil {
		return ""
	}
	return string(data)
}
