package rates

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ratePlaces is the number of decimal places kept on derived cross rates.
const ratePlaces = 12

// DefaultTable is used when no rate file is configured.
var DefaultTable = map[string]string{
	"USD": "1",
	"EUR": "0.92",
	"GBP": "0.79",
	"JPY": "151.50",
	"CHF": "0.88",
	"CAD": "1.36",
	"AUD": "1.52",
	"BHD": "0.376",
}

// TableFile is the YAML layout of a rate file. Rates are units of each
// currency per one unit of Base.
type TableFile struct {
	Base  string            `yaml:"base"`
	AsOf  time.Time         `yaml:"as_of"`
	Rates map[string]string `yaml:"rates"`
}

type pairRate struct {
	rate decimal.Decimal
	asOf time.Time
}

// StaticSource implements ports.RateSource from an in-process rate table.
// Cross rates are derived through the base currency; pairs set with SetRate
// take precedence over derived rates.
//
// A table built with a zero asOf is live: its rates are reported as of the
// time they are fetched. A non-zero asOf pins them to that instant, so they
// age like rates from a remote provider.
type StaticSource struct {
	mu    sync.RWMutex
	base  string
	asOf  time.Time
	table map[string]decimal.Decimal
	pairs map[string]pairRate
	now   func() time.Time
}

// NewStaticSource builds a source from a base currency table.
func NewStaticSource(base string, table map[string]string, asOf time.Time) (*StaticSource, error) {
	s := &StaticSource{
		base:  strings.ToUpper(base),
		asOf:  asOf,
		table: make(map[string]decimal.Decimal, len(table)+1),
		pairs: make(map[string]pairRate),
		now:   time.Now,
	}
	s.table[s.base] = decimal.NewFromInt(1)
	for code, raw := range table {
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("rate for %s: %w", code, err)
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("rate for %s must be positive, got %s", code, raw)
		}
		s.table[strings.ToUpper(code)] = rate
	}
	if !s.table[s.base].Equal(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("base currency %s must have rate 1", s.base)
	}
	return s, nil
}

// DefaultSource returns DefaultTable rebased onto base as a live table.
func DefaultSource(base string) (*StaticSource, error) {
	base = strings.ToUpper(base)
	raw, ok := DefaultTable[base]
	if !ok {
		return nil, fmt.Errorf("base currency %s is not in the default rate table", base)
	}
	anchor := decimal.RequireFromString(raw)
	table := make(map[string]string, len(DefaultTable))
	for code, r := range DefaultTable {
		table[code] = decimal.RequireFromString(r).DivRound(anchor, 12).String()
	}
	return NewStaticSource(base, table, time.Time{})
}

// LoadStaticSource reads a YAML rate file. A file without as_of is live.
func LoadStaticSource(path string) (*StaticSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rate file: %w", err)
	}
	var f TableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rate file: %w", err)
	}
	if f.Base == "" {
		return nil, fmt.Errorf("rate file %s: base is required", path)
	}
	return NewStaticSource(f.Base, f.Rates, f.AsOf)
}

func pairKey(from, to string) string { return from + "/" + to }

// FetchRate returns units of to per one unit of from.
func (s *StaticSource) FetchRate(_ context.Context, from, to string) (decimal.Decimal, time.Time, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.pairs[pairKey(from, to)]; ok {
		return p.rate, p.asOf, nil
	}
	fromRate, ok := s.table[from]
	if !ok {
		return decimal.Zero, time.Time{}, fmt.Errorf("no rate for currency %s", from)
	}
	toRate, ok := s.table[to]
	if !ok {
		return decimal.Zero, time.Time{}, fmt.Errorf("no rate for currency %s", to)
	}
	asOf := s.asOf
	if asOf.IsZero() {
		asOf = s.now().UTC()
	}
	return toRate.DivRound(fromRate, ratePlaces), asOf, nil
}

// SetRate implements ports.RateWriter. The inverse pair is set too.
func (s *StaticSource) SetRate(from, to string, rate decimal.Decimal, asOf time.Time) error {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return fmt.Errorf("cannot set a rate from %s to itself", from)
	}
	if !rate.IsPositive() {
		return fmt.Errorf("rate must be positive, got %s", rate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pairs[pairKey(from, to)] = pairRate{rate: rate, asOf: asOf}
	s.pairs[pairKey(to, from)] = pairRate{rate: decimal.NewFromInt(1).DivRound(rate, ratePlaces), asOf: asOf}
	return nil
}

// Currencies lists the currencies in the base table.
func (s *StaticSource) Currencies() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.table))
	for code := range s.table {
		out = append(out, code)
	}
	return out
}
