// Package instrument resolves plain ticker symbols to broker instrument
// keys using a CSV-backed master file, loaded lazily on first use.
package instrument

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/ndrandal/tradegate/internal/schema"
)

// Master resolves symbols against a lazily loaded instrument CSV. A missing
// file is logged and treated as an empty catalogue rather than a fatal
// error, so the gateway still starts with Resolve falling back to bare
// normalization.
type Master struct {
	path string

	once sync.Once
	mu   sync.RWMutex
	rows map[string]schema.InstrumentRow
}

// New constructs a Master for the CSV file at path. Nothing is read until
// the first call to Resolve or Load.
func New(path string) *Master {
	return &Master{path: path}
}

// Load forces the CSV to be read now instead of on first Resolve. Safe to
// call more than once; only the first call does work.
func (m *Master) Load() error {
	var loadErr error
	m.once.Do(func() {
		loadErr = m.load()
	})
	return loadErr
}

func (m *Master) load() error {
	rows := make(map[string]schema.InstrumentRow)

	file, err := os.Open(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("instrument: master file %q not found, resolving by normalization only", m.path)
			m.mu.Lock()
			m.rows = rows
			m.mu.Unlock()
			return nil
		}
		return fmt.Errorf("instrument: open master file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			m.mu.Lock()
			m.rows = rows
			m.mu.Unlock()
			return nil
		}
		return fmt.Errorf("instrument: read header: %w", err)
	}
	col := columnIndex(header)

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("instrument: read record: %w", err)
		}
		row := schema.InstrumentRow{
			Symbol:       field(record, col, "symbol"),
			Exchange:     field(record, col, "exchange"),
			Series:       field(record, col, "series"),
			ISIN:         field(record, col, "isin"),
			NSEScripCode: field(record, col, "nse_scrip_code"),
			BSECode:      field(record, col, "bse_code"),
		}
		if row.Symbol == "" {
			continue
		}
		rows[strings.ToUpper(row.Symbol)] = row
	}

	m.mu.Lock()
	m.rows = rows
	m.mu.Unlock()
	return nil
}

func columnIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return idx
}

func field(record []string, col map[string]int, name string) string {
	i, ok := col[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// Resolve looks up symbol (case-insensitively) and returns the canonical
// instrument key "exchange_cm|scrip_code". It returns false if the symbol
// is unknown, in which case callers fall back to plain normalization.
func (m *Master) Resolve(symbol string) (string, bool) {
	_ = m.Load()

	key := strings.ToUpper(strings.TrimSpace(symbol))
	if key == "" {
		return "", false
	}

	m.mu.RLock()
	row, ok := m.rows[key]
	m.mu.RUnlock()
	if !ok {
		return "", false
	}

	exchange := strings.ToLower(row.Exchange)
	if exchange == "" {
		exchange = "nse"
	}
	code := row.NSEScripCode
	if code == "" {
		code = row.BSECode
	}
	if code == "" {
		return "", false
	}
	return fmt.Sprintf("%s_cm|%s", exchange, code), true
}
