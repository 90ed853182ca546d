package fx

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"grantflow/internal/models"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Loader errors.
var (
	ErrMissingDateColumn = errors.New("rates file has no Date column")
	ErrUnknownFormat     = errors.New("unknown rates format")
)

// ECBBase is the base currency of the ECB reference-rate history.
const ECBBase = "EUR"

// LoadECBCSV reads the ECB euro foreign exchange reference rate history
// (eurofxref-hist.csv): a Date column followed by one column per currency.
// Cells holding "N/A" or nothing are skipped.
func LoadECBCSV(r io.Reader) ([]Observation, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read rates header: %w", err)
	}

	if len(header) == 0 || !strings.EqualFold(strings.TrimSpace(header[0]), "Date") {
		return nil, ErrMissingDateColumn
	}

	var observations []Observation

	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		line++

		if err != nil {
			return nil, fmt.Errorf("failed to read rates line %d: %w", line, err)
		}

		day, err := models.ParseDate(strings.TrimSpace(record[0]))
		if err != nil {
			return nil, fmt.Errorf("rates line %d: %w", line, err)
		}

		for i := 1; i < len(record) && i < len(header); i++ {
			code := strings.TrimSpace(header[i])
			cell := strings.TrimSpace(record[i])

			if code == "" || cell == "" || strings.EqualFold(cell, "N/A") {
				continue
			}

			rate, err := decimal.NewFromString(cell)
			if err != nil {
				return nil, fmt.Errorf("rates line %d, %s: %w", line, code, err)
			}

			observations = append(observations, Observation{Code: code, Date: day.Time, Rate: rate})
		}
	}

	return observations, nil
}

// yamlRates is the hand-maintained rate file format:
//
//	base: EUR
//	rates:
//	  "2019-01-02": {USD: 1.1397, CAD: 1.5486}
type yamlRates struct {
	Rates map[string]map[string]string `yaml:"rates"`
	Base  string                       `yaml:"base"`
}

// LoadYAML reads a YAML rate file and returns its base currency and observations.
func LoadYAML(r io.Reader) (string, []Observation, error) {
	var doc yamlRates
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return "", nil, fmt.Errorf("failed to parse rates YAML: %w", err)
	}

	base := doc.Base
	if base == "" {
		base = ECBBase
	}

	var observations []Observation

	for dateStr, byCode := range doc.Rates {
		day, err := models.ParseDate(dateStr)
		if err != nil {
			return "", nil, fmt.Errorf("rates YAML: %w", err)
		}

		for code, cell := range byCode {
			rate, err := decimal.NewFromString(strings.TrimSpace(cell))
			if err != nil {
				return "", nil, fmt.Errorf("rates YAML %s %s: %w", dateStr, code, err)
			}

			observations = append(observations, Observation{Code: code, Date: day.Time, Rate: rate})
		}
	}

	return base, observations, nil
}

// LoadFile builds a Table from a rates file in the given format
// ("ecb_csv" or "yaml"). The file is read once.
func LoadFile(path, format string, maxLookbackDays int) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rates file: %w", err)
	}
	defer f.Close()

	switch format {
	case "ecb_csv":
		obs, err := LoadECBCSV(f)
		if err != nil {
			return nil, err
		}

		return NewTable(ECBBase, maxLookbackDays, obs), nil
	case "yaml":
		base, obs, err := LoadYAML(f)
		if err != nil {
			return nil, err
		}

		return NewTable(base, maxLookbackDays, obs), nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
}

// Observed reports the first and last observation dates for code.
func (t *Table) Observed(code string) (first, last time.Time, ok bool) {
	s, found := t.series[normalizeCode(code)]
	if !found || len(s.dates) == 0 {
		return time.Time{}, time.Time{}, false
	}

	return s.dates[0], s.dates[len(s.dates)-1], true
}
