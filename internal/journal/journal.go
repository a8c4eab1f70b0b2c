// Package journal keeps a hash-chained JSONL record of the changes made to
// a volume.
package journal

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkgfs-project/pkgfsd/pkg/model"
	"golang.org/x/sys/unix"
)

// ErrBrokenChain is returned by Verify when a record does not link to its
// predecessor or its hash does not match its content.
var ErrBrokenChain = errors.New("journal hash chain broken")

// maxLineSize bounds a single journal line.
const maxLineSize = 1 << 20

// Appender appends records to a journal file.
type Appender struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewAppender creates an Appender writing to path.
func NewAppender(path string) *Appender {
	return &Appender{path: path, now: time.Now}
}

// Path returns the journal file path.
func (a *Appender) Path() string { return a.path }

// Append completes rec with id, timestamp and hashes and appends it. The
// completed record is returned.
func (a *Appender) Append(rec model.JournalRecord) (model.JournalRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.path), 0755); err != nil {
		return rec, fmt.Errorf("create journal dir: %w", err)
	}
	file, err := os.OpenFile(a.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return rec, fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	// Other processes (doctor, gc) may append too.
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX); err != nil {
		return rec, fmt.Errorf("flock journal: %w", err)
	}
	defer unix.Flock(int(file.Fd()), unix.LOCK_UN)

	prevHash, err := lastHash(file)
	if err != nil {
		return rec, err
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = a.now().UTC()
	}
	rec.PrevHash = prevHash
	rec.RecordHash, err = computeHash(rec)
	if err != nil {
		return rec, err
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return rec, fmt.Errorf("marshal journal record: %w", err)
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return rec, fmt.Errorf("seek to end: %w", err)
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		return rec, fmt.Errorf("write journal record: %w", err)
	}
	if err := file.Sync(); err != nil {
		return rec, fmt.Errorf("sync journal: %w", err)
	}
	return rec, nil
}

// LastHash returns the hash of the last record, empty for a new journal.
func (a *Appender) LastHash() (model.HashValue, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	file, err := os.Open(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()
	return lastHash(file)
}

func lastHash(file *os.File) (model.HashValue, error) {
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("seek to start: %w", err)
	}
	var last model.HashValue
	err := scan(file, func(rec model.JournalRecord) error {
		last = rec.RecordHash
		return nil
	})
	return last, err
}

// scan calls fn for each well-formed line of r. Malformed lines are
// skipped.
func scan(r io.Reader, fn func(model.JournalRecord) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		var rec model.JournalRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan journal: %w", err)
	}
	return nil
}

// ReadAll returns every record of the journal at path in order. A missing
// journal has no records.
func ReadAll(path string) ([]model.JournalRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	var records []model.JournalRecord
	err = scan(file, func(rec model.JournalRecord) error {
		records = append(records, rec)
		return nil
	})
	return records, err
}

// Verify checks the hash chain of the journal at path and returns the
// number of records.
func Verify(path string) (int, error) {
	records, err := ReadAll(path)
	if err != nil {
		return 0, err
	}
	var prev model.HashValue
	for i, rec := range records {
		if rec.PrevHash != prev {
			return i, fmt.Errorf("%w: record %d (%s) expects previous hash %q, found %q",
				ErrBrokenChain, i, rec.ID, rec.PrevHash, prev)
		}
		want, err := computeHash(rec)
		if err != nil {
			return i, err
		}
		if rec.RecordHash != want {
			return i, fmt.Errorf("%w: record %d (%s) hash mismatch", ErrBrokenChain, i, rec.ID)
		}
		prev = rec.RecordHash
	}
	return len(records), nil
}

// computeHash hashes the JSON encoding of rec without its own hash.
// encoding/json sorts map keys, so the encoding is stable.
func computeHash(rec model.JournalRecord) (model.HashValue, error) {
	rec.RecordHash = ""
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal for hash: %w", err)
	}
	sum := sha256.Sum256(data)
	return model.HashValue(hex.EncodeToString(sum[:])), nil
}
