package marketdata

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bcdannyboy/volsurf/models"
)

// matchWindow is how far apart two timestamps can be and still name the same
// expiration.
const matchWindow int64 = 86400

type Expiration struct {
	Timestamp int64  `json:"timestamp"`
	Label     string `json:"label"`
	Count     int    `json:"count"`
}

// Slice is the set of rows sharing one expiration.
type Slice struct {
	Expiration Expiration             `json:"expiration"`
	Rows       []models.MarketDataRow `json:"-"`
}

// Label formats a unix timestamp the way exchange symbols do, e.g. 10JAN25.
func Label(ts int64) string {
	return strings.ToUpper(time.Unix(ts, 0).UTC().Format("02Jan06"))
}

// Expirations lists the distinct expirations in rows, earliest first.
func Expirations(rows []models.MarketDataRow) []Expiration {
	counts := make(map[int64]int)
	for _, r := range rows {
		counts[r.Expiration]++
	}
	out := make([]Expiration, 0, len(counts))
	for ts, n := range counts {
		out = append(out, Expiration{Timestamp: ts, Label: Label(ts), Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// GroupByExpiration splits rows into per-expiration slices, earliest first.
// Row order inside a slice is preserved.
func GroupByExpiration(rows []models.MarketDataRow) []Slice {
	idx := make(map[int64]int)
	var slices []Slice
	for _, r := range rows {
		i, ok := idx[r.Expiration]
		if !ok {
			i = len(slices)
			idx[r.Expiration] = i
			slices = append(slices, Slice{Expiration: Expiration{Timestamp: r.Expiration, Label: Label(r.Expiration)}})
		}
		slices[i].Rows = append(slices[i].Rows, r)
		slices[i].Expiration.Count++
	}
	sort.Slice(slices, func(i, j int) bool {
		return slices[i].Expiration.Timestamp < slices[j].Expiration.Timestamp
	})
	return slices
}

// ParseExpiration accepts a symbol-style label (10JAN25), an ISO date
// (2025-01-10) or a unix timestamp.
func ParseExpiration(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ts, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.Unix(), nil
	}
	if t, err := time.Parse("02Jan06", titleMonth(s)); err == nil {
		return t.Unix(), nil
	}
	return 0, fmt.Errorf("marketdata.ParseExpiration: unrecognised expiration %q", s)
}

// FilterByExpiration keeps the rows expiring within a day of exp, which is
// anything ParseExpiration accepts.
func FilterByExpiration(rows []models.MarketDataRow, exp string) ([]models.MarketDataRow, error) {
	target, err := ParseExpiration(exp)
	if err != nil {
		return nil, err
	}
	var out []models.MarketDataRow
	for _, r := range rows {
		if d := r.Expiration - target; d > -matchWindow && d < matchWindow {
			out = append(out, r)
		}
	}
	return out, nil
}

// titleMonth turns 10JAN25 into 10Jan25 for time.Parse.
func titleMonth(s string) string {
	if len(s) != 7 {
		return s
	}
	return s[:2] + strings.ToUpper(s[2:3]) + strings.ToLower(s[3:5]) + s[5:]
}
