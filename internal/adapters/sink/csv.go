package sink

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/okian/safescore/internal/domain/dedupe"
	"github.com/okian/safescore/internal/domain/model"
	"github.com/okian/safescore/pkg/logger"
	"github.com/shopspring/decimal"
)

// Columns is the header of every CSV the sink writes.
var Columns = []string{
	"tx_id", "timestamp", "from_address", "to_address", "amount", "token",
	"method", "chain", "score", "reasons", "hits", "velocity_last_window",
}

// ReasonSeparator joins reasons in a single CSV cell.
const ReasonSeparator = " | "

const filePrefix = "transactions_"

// FileName returns the daily output file name for chain.
func FileName(chain string, day time.Time) string {
	return filePrefix + strings.ToLower(chain) + "_" + day.UTC().Format("20060102") + ".csv"
}

// CSV writes one file per chain and UTC day under dir. Rows already in the
// day's file are kept unless the same tx_id is written again.
type CSV struct {
	dir    string
	now    func() time.Time
	logger logger.Logger
}

// NewCSV creates a CSV sink rooted at dir.
func NewCSV(dir string) *CSV {
	return &CSV{dir: dir, now: time.Now, logger: logger.Get().Named("sink.csv")}
}

// WithClock overrides the clock used to pick the file date.
func (c *CSV) WithClock(now func() time.Time) *CSV {
	if now != nil {
		c.now = now
	}
	return c
}

// Name implements Sink.
func (c *CSV) Name() string { return "csv" }

// Close implements Sink.
func (c *CSV) Close() error { return nil }

// Path returns the file records of chain are written to today.
func (c *CSV) Path(chain string) string {
	return filepath.Join(c.dir, FileName(chain, c.now()))
}

// Write implements Sink.
func (c *CSV) Write(ctx context.Context, records []model.ScoredRecord) error {
	if c.dir == "" {
		return ErrNoDir
	}
	if len(records) == 0 {
		return nil
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("csv: create dir: %w", err)
	}

	byChain := map[string][]model.ScoredRecord{}
	var chains []string
	for _, r := range records {
		if _, ok := byChain[r.Chain]; !ok {
			chains = append(chains, r.Chain)
		}
		byChain[r.Chain] = append(byChain[r.Chain], r)
	}

	var errs []error
	for _, chain := range chains {
		if err := c.writeFile(ctx, c.Path(chain), byChain[chain]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *CSV) writeFile(ctx context.Context, path string, records []model.ScoredRecord) error {
	existing, err := ReadCSV(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.logger.Warn(ctx, "existing csv unreadable, overwriting",
			logger.String("path", path),
			logger.Error(err),
		)
		existing = nil
	}

	fresh := dedupe.New()
	for _, r := range records {
		fresh.SeenAndRecord(ctx, r.TxID)
	}
	merged := make([]model.ScoredRecord, 0, len(existing)+len(records))
	for _, r := range existing {
		if fresh.SeenAndRecord(ctx, r.TxID) {
			continue
		}
		merged = append(merged, r)
	}
	merged = append(merged, records...)

	tmp, err := os.CreateTemp(filepath.Dir(path), ".transactions-*.tmp")
	if err != nil {
		return fmt.Errorf("csv: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteCSV(tmp, merged); err != nil {
		tmp.Close()
		return fmt.Errorf("csv: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("csv: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("csv: %w", err)
	}
	c.logger.Info(ctx, "csv written",
		logger.String("path", path),
		logger.Int("new", len(records)),
		logger.Int("rows", len(merged)),
	)
	return nil
}

// WriteCSV writes records with the Columns header.
func WriteCSV(w io.Writer, records []model.ScoredRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, r := range records {
		hits := r.Hits
		if hits == nil {
			hits = map[string]int{}
		}
		hb, err := json.Marshal(hits)
		if err != nil {
			return err
		}
		row := []string{
			r.TxID,
			r.TimestampString(),
			r.From,
			r.To,
			r.Amount.String(),
			r.Token,
			string(r.Method),
			r.Chain,
			strconv.Itoa(r.Score),
			strings.Join(r.Reasons, ReasonSeparator),
			string(hb),
			strconv.Itoa(r.VelocityCount),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV reads a file written by WriteCSV. Only tx_id and timestamp are
// required; a file of bare canonical transactions reads with zero scores.
// Rows with an unparseable timestamp or amount are skipped.
func ReadCSV(path string) ([]model.ScoredRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeCSV(f)
}

// DecodeCSV is ReadCSV over a reader.
func DecodeCSV(r io.Reader) ([]model.ScoredRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return []model.ScoredRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("csv header: %w", err)
	}
	idx := map[string]int{}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		idx[h] = i
	}
	for _, col := range []string{"tx_id", "timestamp"} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}

	out := []model.ScoredRecord{}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("csv row: %w", err)
		}
		if rec, ok := parseRow(row, idx); ok {
			out = append(out, rec)
		}
	}
}

func parseRow(row []string, idx map[string]int) (model.ScoredRecord, bool) {
	get := func(col string) string {
		i, ok := idx[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var rec model.ScoredRecord
	rec.TxID = get("tx_id")
	if rec.TxID == "" {
		return rec, false
	}
	ts, err := model.ParseTimestamp(get("timestamp"))
	if err != nil {
		return rec, false
	}
	rec.Timestamp = ts
	rec.Amount = decimal.Zero
	if s := get("amount"); s != "" {
		amt, err := decimal.NewFromString(s)
		if err != nil || amt.IsNegative() {
			return rec, false
		}
		rec.Amount = amt
	}
	rec.From = get("from_address")
	rec.To = get("to_address")
	rec.Token = get("token")
	rec.Method = model.Method(model.NormalizeSymbol(get("method")))
	rec.Chain = get("chain")

	rec.Score, _ = strconv.Atoi(get("score"))
	rec.VelocityCount, _ = strconv.Atoi(get("velocity_last_window"))
	rec.Reasons = []string{}
	if s := get("reasons"); s != "" {
		rec.Reasons = strings.Split(s, ReasonSeparator)
	}
	rec.Hits = map[string]int{}
	if s := get("hits"); s != "" {
		_ = json.Unmarshal([]byte(s), &rec.Hits)
	}
	return rec, true
}

// History reads the most recent output files in dir, newest first by
// modification time, and returns their transactions with duplicate tx ids
// dropped. maxFiles <= 0 reads every file.
func History(dir string, maxFiles int) ([]model.Transaction, error) {
	matches, err := filepath.Glob(filepath.Join(dir, filePrefix+"*.csv"))
	if err != nil {
		return nil, err
	}
	type entry struct {
		path string
		mod  time.Time
	}
	files := make([]entry, 0, len(matches))
	for _, m := range matches {
		st, err := os.Stat(m)
		if err != nil {
			continue
		}
		files = append(files, entry{m, st.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].mod.Equal(files[j].mod) {
			return files[i].path > files[j].path
		}
		return files[i].mod.After(files[j].mod)
	})
	if maxFiles > 0 && len(files) > maxFiles {
		files = files[:maxFiles]
	}

	seen := dedupe.New()
	out := []model.Transaction{}
	var errs []error
	for _, f := range files {
		recs, err := ReadCSV(f.path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(f.path), err))
		}
		for _, r := range recs {
			if seen.SeenAndRecord(context.Background(), r.TxID) {
				continue
			}
			out = append(out, r.Transaction)
		}
	}
	return out, errors.Join(errs...)
}
