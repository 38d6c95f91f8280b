// Package journal writes booked postings to monthly CSV files and checks
// the invariants of generated posting groups.
package journal

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Muesli84/FinanceManager-sub001/internal/id"
	"github.com/Muesli84/FinanceManager-sub001/internal/model"
)

// Service maintains <root>/YYYY/MM/postings.csv, one file per month of the
// posting group id.
type Service struct {
	root    string
	ownerID string
}

// NewService creates a journal Service for one owner.
func NewService(root, ownerID string) *Service {
	return &Service{root: root, ownerID: ownerID}
}

// Append validates and appends postings to their month files. Postings
// already present in a month file are rejected as a whole.
func (s *Service) Append(ps []model.Posting) error {
	type month struct{ year, month int }
	byMonth := make(map[month][]model.Posting)
	var months []month
	for _, p := range ps {
		y, m, err := id.ParseGroupID(p.GroupID)
		if err != nil {
			return fmt.Errorf("posting %s: %w", p.ID, err)
		}
		key := month{y, m}
		if _, ok := byMonth[key]; !ok {
			months = append(months, key)
		}
		byMonth[key] = append(byMonth[key], p)
	}
	slices.SortFunc(months, func(a, b month) int {
		if a.year != b.year {
			return a.year - b.year
		}
		return a.month - b.month
	})

	for _, m := range months {
		if err := s.appendMonth(m.year, m.month, byMonth[m]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) appendMonth(year, month int, newPostings []model.Posting) error {
	// Read existing postings for validation.
	existing, err := s.ReadMonth(year, month)
	if err != nil {
		return err
	}

	all := append(existing, newPostings...)
	if verrs := ValidateUnique(all); len(verrs) > 0 {
		msgs := make([]string, len(verrs))
		for i, ve := range verrs {
			msgs[i] = ve.Error()
		}
		return fmt.Errorf("validation failed: %s", strings.Join(msgs, "; "))
	}

	// Append to journal file (create dir + header if new).
	path := s.monthPath(year, month)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating journal dir: %w", err)
	}

	isNew := false
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		isNew = true
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer f.Close()

	if isNew {
		if _, err := fmt.Fprintln(f, Header); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}

	if err := AppendPostings(f, newPostings); err != nil {
		return fmt.Errorf("appending postings: %w", err)
	}
	return nil
}

// ReadMonth reads all postings for a given year/month.
func (s *Service) ReadMonth(year, month int) ([]model.Posting, error) {
	path := s.monthPath(year, month)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening journal %s: %w", path, err)
	}
	defer f.Close()

	ps, err := ReadPostings(f, s.ownerID)
	if err != nil {
		return nil, fmt.Errorf("reading journal %s: %w", path, err)
	}
	return ps, nil
}

func (s *Service) monthPath(year, month int) string {
	return filepath.Join(s.root, fmt.Sprintf("%04d", year), fmt.Sprintf("%02d", month), "postings.csv")
}
