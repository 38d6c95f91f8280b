// Package booklog records import, review and booking actions in a CSV log.
package booklog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Action names what happened to a draft.
type Action string

const (
	ActionImport   Action = "import"
	ActionClassify Action = "classify"
	ActionSplit    Action = "split"
	ActionBook     Action = "book"
	ActionCancel   Action = "cancel"
	ActionRebuild  Action = "rebuild"
)

// Entry is one row in the booking log.
type Entry struct {
	Timestamp time.Time
	OwnerID   string
	Action    Action
	DraftID   string
	EntryID   string
	Outcome   string
	Details   string
}

// Header is the CSV header for booking-log.csv.
const Header = "timestamp,owner_id,action,draft_id,entry_id,outcome,details"

const (
	numFields    = 7
	logDir       = "logs"
	logFile      = "logs/booking-log.csv"
	colTimestamp = 0
	colOwner     = 1
	colAction    = 2
	colDraftID   = 3
	colEntryID   = 4
	colOutcome   = 5
	colDetails   = 6
)

// MarshalEntry converts an Entry to a CSV row.
func MarshalEntry(e Entry) []string {
	row := make([]string, numFields)
	row[colTimestamp] = e.Timestamp.Format(time.RFC3339)
	row[colOwner] = e.OwnerID
	row[colAction] = string(e.Action)
	row[colDraftID] = e.DraftID
	row[colEntryID] = e.EntryID
	row[colOutcome] = e.Outcome
	row[colDetails] = e.Details
	return row
}

// UnmarshalEntry converts a CSV row to an Entry.
func UnmarshalEntry(record []string) (Entry, error) {
	if len(record) != numFields {
		return Entry{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}

	ts, err := time.Parse(time.RFC3339, record[colTimestamp])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing timestamp %q: %w", record[colTimestamp], err)
	}

	return Entry{
		Timestamp: ts,
		OwnerID:   record[colOwner],
		Action:    Action(record[colAction]),
		DraftID:   record[colDraftID],
		EntryID:   record[colEntryID],
		Outcome:   record[colOutcome],
		Details:   record[colDetails],
	}, nil
}

// Append writes entries to <dataDir>/logs/booking-log.csv, creating the file and header if needed.
func Append(dataDir string, entries []Entry) error {
	dir := filepath.Join(dataDir, logDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating logs dir: %w", err)
	}

	path := filepath.Join(dataDir, logFile)
	needsHeader := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		needsHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening booking log: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	defer cw.Flush()

	if needsHeader {
		if err := cw.Write(strings.Split(Header, ",")); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}

	for i, e := range entries {
		if err := cw.Write(MarshalEntry(e)); err != nil {
			return fmt.Errorf("writing entry %d: %w", i, err)
		}
	}

	return cw.Error()
}

// Read returns all entries from <dataDir>/logs/booking-log.csv.
// Returns an empty slice if the file does not exist.
func Read(dataDir string) ([]Entry, error) {
	path := filepath.Join(dataDir, logFile)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening booking log: %w", err)
	}
	defer f.Close()

	return readEntries(f)
}

func readEntries(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading booking log CSV: %w", err)
	}

	if len(records) <= 1 {
		return nil, nil
	}

	var entries []Entry
	for i, rec := range records[1:] {
		e, err := UnmarshalEntry(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ByDraft returns the entries that concern draftID, oldest first.
func ByDraft(entries []Entry, draftID string) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.DraftID == draftID {
			out = append(out, e)
		}
	}
	return out
}
