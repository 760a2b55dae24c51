// Package lists loads the static scoring lists and weight overrides from a
// data directory, and appends to the known-address list.
package lists

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// File names read from the data directory.
const (
	BlacklistFile        = "blacklist.csv"
	WatchlistFile        = "watchlist.csv"
	KnownAddressesFile   = "known_addresses.csv"
	SensitiveTokensFile  = "sensitive_tokens.csv"
	SensitiveMethodsFile = "sensitive_methods.csv"
	WeightsFile          = "weights.json"
)

// headerWords are first-row values treated as a column header.
var headerWords = map[string]struct{}{
	"address": {}, "addr": {}, "wallet": {}, "from_address": {},
	"token": {}, "symbol": {}, "method": {}, "value": {}, "name": {},
}

// Lists is everything a scoring run reads from the data directory.
type Lists struct {
	Blacklist        []string
	Watchlist        []string
	KnownAddresses   []string
	SensitiveTokens  []string
	SensitiveMethods []string
	Weights          map[string]int
}

// Load reads every list from dir. Missing files give empty lists. Errors
// for unreadable files are joined and returned alongside whatever loaded.
func Load(dir string) (Lists, error) {
	var (
		l    Lists
		errs []error
	)
	read := func(name string, dst *[]string) {
		v, err := ReadColumn(filepath.Join(dir, name))
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = v
	}
	read(BlacklistFile, &l.Blacklist)
	read(WatchlistFile, &l.Watchlist)
	read(KnownAddressesFile, &l.KnownAddresses)
	read(SensitiveTokensFile, &l.SensitiveTokens)
	read(SensitiveMethodsFile, &l.SensitiveMethods)

	w, err := ReadWeights(filepath.Join(dir, WeightsFile))
	if err != nil {
		errs = append(errs, err)
	}
	l.Weights = w
	return l, errors.Join(errs...)
}

// ReadColumn reads the first column of a CSV file, skipping blank rows and a
// header row. A missing file is an empty list.
func ReadColumn(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w %s: %w", ErrReadList, path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var out []string
	first := true
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("%w %s: %w", ErrReadList, path, err)
		}
		if len(rec) == 0 {
			continue
		}
		v := strings.TrimSpace(strings.TrimPrefix(rec[0], "\ufeff"))
		if v == "" {
			continue
		}
		if first {
			first = false
			if _, ok := headerWords[strings.ToLower(v)]; ok {
				continue
			}
		}
		out = append(out, v)
	}
	return out, nil
}

// ReadWeights reads a JSON object of rule -> weight. Values that are not
// integers (or integer-valued numbers or numeric strings) are ignored entry
// by entry. A missing file gives no overrides.
func ReadWeights(path string) (map[string]int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]int{}, nil
		}
		return map[string]int{}, fmt.Errorf("%w %s: %w", ErrReadWeights, path, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return map[string]int{}, fmt.Errorf("%w %s: %w", ErrReadWeights, path, err)
	}

	out := make(map[string]int, len(raw))
	for name, v := range raw {
		if w, ok := weightValue(v); ok {
			out[name] = w
		}
	}
	return out, nil
}

func weightValue(v json.RawMessage) (int, bool) {
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
		if f, err := n.Float64(); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
			return int(f), true
		}
		return 0, false
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

// AppendColumn appends values as rows of a single-column CSV, writing header
// first when the file is new.
func AppendColumn(path, header string, values []string) error {
	if len(values) == 0 {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	_, statErr := os.Stat(path)
	isNew := errors.Is(statErr, os.ErrNotExist)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if isNew && header != "" {
		if err := w.Write([]string{header}); err != nil {
			return err
		}
	}
	for _, v := range values {
		if err := w.Write([]string{v}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
