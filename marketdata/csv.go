package marketdata

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/bcdannyboy/volsurf/models"
	"github.com/bcdannyboy/volsurf/pricing"
)

const secondsPerYear = 365.25 * 24 * 3600

// csvRow mirrors a snapshot export. mark_iv is in percent. The optional
// columns are read as strings so that blank cells stay distinguishable.
type csvRow struct {
	Symbol          string  `csv:"symbol"`
	SnapshotTS      string  `csv:"snapshot_ts"`
	OptionType      string  `csv:"option_type"`
	StrikePrice     float64 `csv:"strike_price"`
	UnderlyingPrice float64 `csv:"underlying_price"`
	YearsToExp      float64 `csv:"years_to_exp"`
	MarkIV          float64 `csv:"mark_iv"`
	OpenInterest    string  `csv:"open_interest"`
	Vega            string  `csv:"vega"`
	ExpirationTS    string  `csv:"expiration_ts"`
}

type Options struct {
	// Symbol keeps only rows whose symbol root (the text before the first
	// '-') matches, case-insensitively. Empty keeps everything.
	Symbol string
	// Fixed is used to fill missing vegas.
	Fixed models.FixedParameters
}

func DefaultOptions() Options {
	return Options{Fixed: models.DefaultFixedParameters()}
}

func LoadCSV(path string, opts Options) ([]models.MarketDataRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("marketdata.LoadCSV: %w", err)
	}
	defer f.Close()

	rows, err := ReadCSV(f, opts)
	if err != nil {
		return nil, fmt.Errorf("marketdata.LoadCSV %s: %w", path, err)
	}
	return rows, nil
}

func ReadCSV(r io.Reader, opts Options) ([]models.MarketDataRow, error) {
	var raw []*csvRow
	if err := gocsv.Unmarshal(r, &raw); err != nil {
		return nil, fmt.Errorf("marketdata.ReadCSV: %w", err)
	}

	rows := make([]models.MarketDataRow, 0, len(raw))
	for i, cr := range raw {
		if opts.Symbol != "" && !strings.EqualFold(symbolRoot(cr.Symbol), opts.Symbol) {
			continue
		}
		row, err := cr.toRow(opts.Fixed)
		if err != nil {
			// line 1 is the header
			return nil, fmt.Errorf("marketdata.ReadCSV: line %d: %w", i+2, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (cr *csvRow) toRow(fixed models.FixedParameters) (models.MarketDataRow, error) {
	optType, err := models.ParseOptionType(cr.OptionType)
	if err != nil {
		return models.MarketDataRow{}, err
	}
	row := models.MarketDataRow{
		OptionType:      optType,
		StrikePrice:     cr.StrikePrice,
		UnderlyingPrice: cr.UnderlyingPrice,
		YearsToExp:      cr.YearsToExp,
		MarketIV:        cr.MarkIV / 100,
	}

	if row.Vega, err = parseOptionalFloat(cr.Vega); err != nil {
		return row, fmt.Errorf("vega: %w", err)
	}
	if !(row.Vega > 0) {
		row.Vega = pricing.Vega(row.UnderlyingPrice, row.StrikePrice, row.YearsToExp, fixed.R, fixed.Q, row.MarketIV)
	}

	if row.Expiration, err = cr.expiration(); err != nil {
		return row, err
	}
	return row, nil
}

// expiration prefers the explicit timestamp and otherwise derives it from the
// snapshot time plus the time to expiry.
func (cr *csvRow) expiration() (int64, error) {
	if s := strings.TrimSpace(cr.ExpirationTS); s != "" {
		ts, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(s, 64)
			if ferr != nil {
				return 0, fmt.Errorf("expiration_ts %q: %w", s, err)
			}
			ts = int64(f)
		}
		return ts, nil
	}
	snap, err := parseSnapshot(cr.SnapshotTS)
	if err != nil {
		return 0, fmt.Errorf("no expiration_ts and snapshot_ts %q: %w", cr.SnapshotTS, err)
	}
	return snap.Unix() + int64(math.Round(cr.YearsToExp*secondsPerYear)), nil
}

var snapshotLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

func parseSnapshot(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(ts, 0).UTC(), nil
	}
	var lastErr error
	for _, layout := range snapshotLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func parseOptionalFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func symbolRoot(symbol string) string {
	root, _, _ := strings.Cut(symbol, "-")
	return root
}
