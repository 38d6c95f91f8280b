// Package importer turns raw statement files into parse results. Each Reader
// handles one bank or export family; the Registry tries them in order.
package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/rs/zerolog"

	"github.com/Muesli84/FinanceManager-sub001/internal/logger"
	"github.com/Muesli84/FinanceManager-sub001/internal/metrics"
	"github.com/Muesli84/FinanceManager-sub001/internal/model"
)

// ErrUnrecognizedFormat is returned when no registered reader accepts a file.
var ErrUnrecognizedFormat = errors.New("unrecognized statement format")

// Reader converts statement bytes into movements. Malformed input yields nil,
// never an error or a partial result.
type Reader interface {
	Name() string
	Parse(fileName string, data []byte) *model.ParseResult
}

// ParseMode selects how a DetailsReader treats its input.
type ParseMode int

const (
	// ModeBulk is the first pass over an uploaded file during import.
	ModeBulk ParseMode = iota
	// ModeSingleStatement reads one document describing a single entry, such
	// as a trade confirmation.
	ModeSingleStatement
)

// DetailsReader is a Reader with mode-dependent parsing.
type DetailsReader interface {
	Reader
	ParseDetails(fileName string, data []byte, mode ParseMode) *model.ParseResult
}

// Registry holds named readers in detection order.
type Registry struct {
	readers         map[string]Reader
	order           []string
	defaultCurrency string
	now             func() time.Time
}

// FileInfo describes a statement file waiting in the import directory.
type FileInfo struct {
	Name string
	Path string
	Size int64
}

// NewRegistry creates an empty registry. Movements without a currency get
// defaultCurrency.
func NewRegistry(defaultCurrency string) *Registry {
	return &Registry{
		readers:         make(map[string]Reader),
		defaultCurrency: strings.ToUpper(defaultCurrency),
		now:             time.Now,
	}
}

// Register adds a reader at the end of the detection order. Panics on duplicate name.
func (r *Registry) Register(rd Reader) {
	key := strings.ToLower(rd.Name())
	if _, ok := r.readers[key]; ok {
		panic("duplicate reader: " + key)
	}
	r.readers[key] = rd
	r.order = append(r.order, key)
}

// Get returns the reader for name, or nil.
func (r *Registry) Get(name string) Reader {
	return r.readers[strings.ToLower(name)]
}

// Names returns reader names in detection order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Restrict returns a registry holding only the named readers, in the given order.
func (r *Registry) Restrict(names []string) (*Registry, error) {
	out := NewRegistry(r.defaultCurrency)
	out.now = r.now
	for _, n := range names {
		rd := r.Get(n)
		if rd == nil {
			return nil, fmt.Errorf("unknown reader %q", n)
		}
		out.Register(rd)
	}
	return out, nil
}

// DefaultRegistry returns a registry with all built-in readers.
func DefaultRegistry(defaultCurrency string, log zerolog.Logger) *Registry {
	r := NewRegistry(defaultCurrency)
	for _, rd := range TemplateReaders(log) {
		r.Register(rd)
	}
	r.Register(&ChaseReader{})
	r.Register(&BackupReader{})
	r.Register(&TradeReader{})
	return r
}

// Detect tries every reader in order and returns the first non-empty result.
func (r *Registry) Detect(ctx context.Context, fileName string, data []byte) (Reader, *model.ParseResult, error) {
	log := logger.FromContext(ctx)
	for _, name := range r.order {
		rd := r.readers[name]
		res := r.parse(rd, fileName, data, ModeBulk)
		if res == nil {
			metrics.ParseAttempts.WithLabelValues(name, "rejected").Inc()
			continue
		}
		metrics.ParseAttempts.WithLabelValues(name, "matched").Inc()
		log.Debug().Str("file", fileName).Str("reader", name).Int("movements", len(res.Movements)).Msg("statement recognized")
		return rd, res, nil
	}
	metrics.ParseAttempts.WithLabelValues("none", "unrecognized").Inc()
	return nil, nil, fmt.Errorf("%s: %w", fileName, ErrUnrecognizedFormat)
}

// ParseWith runs one named reader in the given mode.
func (r *Registry) ParseWith(name, fileName string, data []byte, mode ParseMode) (*model.ParseResult, error) {
	rd := r.Get(name)
	if rd == nil {
		return nil, fmt.Errorf("unknown reader %q", name)
	}
	res := r.parse(rd, fileName, data, mode)
	if res == nil {
		return nil, fmt.Errorf("%s: %w", fileName, ErrUnrecognizedFormat)
	}
	return res, nil
}

func (r *Registry) parse(rd Reader, fileName string, data []byte, mode ParseMode) (res *model.ParseResult) {
	// A reader must never take the import down; a panic counts as no result.
	defer func() {
		if recover() != nil {
			res = nil
		}
	}()
	if dr, ok := rd.(DetailsReader); ok {
		res = dr.ParseDetails(fileName, data, mode)
	} else {
		res = rd.Parse(fileName, data)
	}
	if res == nil || len(res.Movements) == 0 {
		return nil
	}
	Normalize(res, r.defaultCurrency, r.now())
	return res
}

// Normalize fills currency and valuta defaults and derives the preview and
// error flags. Movements dated after now are previews; unknown ISO currency
// codes mark a movement as erroneous.
func Normalize(res *model.ParseResult, defaultCurrency string, now time.Time) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	for i := range res.Movements {
		m := &res.Movements[i]
		m.CurrencyCode = strings.ToUpper(strings.TrimSpace(m.CurrencyCode))
		if m.CurrencyCode == "" {
			m.CurrencyCode = defaultCurrency
		}
		if money.GetCurrency(m.CurrencyCode) == nil {
			m.IsError = true
		}
		if m.ValutaDate.IsZero() {
			m.ValutaDate = m.BookingDate
		}
		if m.BookingDate.IsZero() {
			m.IsError = true
		}
		if m.BookingDate.After(today) {
			m.IsPreview = true
		}
	}
}

// importDir is the subdirectory scanned for statement files.
const importDir = "import"

// processedDir is the subdirectory imported files are moved to.
const processedDir = "import/processed"

var statementExts = map[string]bool{".csv": true, ".txt": true, ".pdf": true, ".json": true}

// Scan returns statement files in <dataDir>/import/.
func Scan(dataDir string) ([]FileInfo, error) {
	dir := filepath.Join(dataDir, importDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading import dir: %w", err)
	}

	var files []FileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !statementExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		files = append(files, FileInfo{
			Name: e.Name(),
			Path: filepath.Join(dir, e.Name()),
			Size: info.Size(),
		})
	}
	return files, nil
}

// MarkProcessed moves a file from import/ to import/processed/.
func MarkProcessed(dataDir, fileName string) error {
	src := filepath.Join(dataDir, importDir, fileName)
	dstDir := filepath.Join(dataDir, processedDir)

	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return fmt.Errorf("creating processed dir: %w", err)
	}

	dst := filepath.Join(dstDir, fileName)
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("moving %s to processed: %w", fileName, err)
	}
	return nil
}
