// Package lineariv reads at-the-money and fixed-delta implied vols off a
// single expiration by linear interpolation of total variance in
// log-moneyness. It needs no calibration and serves as a model-free
// reference next to the SVI fit.
package lineariv

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/bcdannyboy/volsurf/models"
	"github.com/bcdannyboy/volsurf/pricing"
)

const (
	// Log-moneyness values equal to this many decimals are one point.
	dedupDecimals = 1e8
	// The delta search runs this far past the quoted moneyness range.
	bracketPad = 1.0
	// Delta residual used where the smile cannot be read.
	unreadableResidual = 10.0
	maxBisections      = 200
	deltaMatchTol      = 1e-10
	rrDelta            = 0.25
)

var (
	ErrInsufficientPoints = errors.New("insufficient points")
	ErrNoRoot             = errors.New("target delta not bracketed")
)

// Config controls which deltas are read off the slice.
type Config struct {
	// Deltas are signed: negative for puts, positive for calls.
	Deltas             []float64 `json:"deltas" yaml:"deltas"`
	SolverTol          float64   `json:"solver_tol" yaml:"solver_tol"`
	MinPoints          int       `json:"min_points" yaml:"min_points"`
	AllowExtrapolation bool      `json:"allow_extrapolation" yaml:"allow_extrapolation"`
	RiskFreeRate       float64   `json:"risk_free_rate" yaml:"risk_free_rate"`
	DividendYield      float64   `json:"dividend_yield" yaml:"dividend_yield"`
}

func DefaultConfig() Config {
	return Config{
		Deltas:             []float64{-0.25, -0.1, 0.1, 0.25},
		SolverTol:          1e-6,
		MinPoints:          3,
		AllowExtrapolation: true,
	}
}

// DeltaIV is the vol at which an option of the given delta is quoted. X is
// the log-moneyness ln(K/F) where that delta is reached.
type DeltaIV struct {
	Delta float64 `json:"delta"`
	IV    float64 `json:"iv"`
	X     float64 `json:"x"`
}

// DeltaMetrics pairs the call and put at one delta level.
type DeltaMetrics struct {
	DeltaLevel   float64 `json:"delta_level"`
	RiskReversal float64 `json:"risk_reversal"`
	Butterfly    float64 `json:"butterfly"`
}

// Output is the linear read of one expiration.
type Output struct {
	ATMIV        float64        `json:"atm_iv"`
	DeltaIVs     []DeltaIV      `json:"delta_ivs"`
	RR25         *float64       `json:"rr_25,omitempty"`
	BF25         *float64       `json:"bf_25,omitempty"`
	DeltaMetrics []DeltaMetrics `json:"delta_metrics,omitempty"`
	TTE          float64        `json:"tte"`
}

// IVForDelta returns the vol solved for delta, if it was.
func (o *Output) IVForDelta(delta float64) (float64, bool) {
	for _, d := range o.DeltaIVs {
		if math.Abs(d.Delta-delta) < deltaMatchTol {
			return d.IV, true
		}
	}
	return 0, false
}

// Point is one node of the variance curve: log-moneyness X and total
// variance W.
type Point struct {
	X float64
	W float64
}

// PreparePoints turns quotes into variance nodes sorted by log-moneyness.
// Quotes without a positive vol are dropped and quotes at the same
// moneyness are averaged.
func PreparePoints(rows []models.MarketDataRow, forward, tte float64) []Point {
	type acc struct {
		sum float64
		n   int
	}
	groups := make(map[int64]*acc)
	for _, r := range rows {
		if !(r.MarketIV > 0) {
			continue
		}
		x := math.Log(r.StrikePrice / forward)
		if math.IsNaN(x) || math.IsInf(x, 0) {
			continue
		}
		key := int64(math.Round(x * dedupDecimals))
		g, ok := groups[key]
		if !ok {
			g = &acc{}
			groups[key] = g
		}
		g.sum += r.MarketIV * r.MarketIV * tte
		g.n++
	}

	points := make([]Point, 0, len(groups))
	for key, g := range groups {
		points = append(points, Point{X: float64(key) / dedupDecimals, W: g.sum / float64(g.n)})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].X < points[j].X })
	return points
}

// Interpolate reads total variance at x off sorted points. Outside the
// quoted range it extends the outermost segment when allowExtrap is set,
// and reports false if that gives a non-positive variance.
func Interpolate(points []Point, x float64, allowExtrap bool) (float64, bool) {
	switch len(points) {
	case 0:
		return 0, false
	case 1:
		return points[0].W, true
	}

	n := len(points)
	if x < points[0].X || x > points[n-1].X {
		if !allowExtrap {
			return 0, false
		}
		p0, p1 := points[0], points[1]
		if x > points[n-1].X {
			p0, p1 = points[n-2], points[n-1]
		}
		w := line(p0, p1, x)
		if !(w > 0) {
			return 0, false
		}
		return w, true
	}

	i := sort.Search(n, func(i int) bool { return points[i].X >= x })
	if points[i].X == x {
		return points[i].W, true
	}
	return line(points[i-1], points[i], x), true
}

func line(p0, p1 Point, x float64) float64 {
	dx := p1.X - p0.X
	if dx == 0 {
		return p0.W
	}
	return p0.W + (x-p0.X)*(p1.W-p0.W)/dx
}

// ATMIV is the vol at the forward.
func ATMIV(rows []models.MarketDataRow, forward, tte float64) (float64, error) {
	if !(tte > 0) {
		return 0, fmt.Errorf("lineariv.ATMIV: tte=%g: %w", tte, models.ErrInvalidParameters)
	}
	points := PreparePoints(rows, forward, tte)
	if len(points) < 2 {
		return 0, fmt.Errorf("lineariv.ATMIV: %d distinct points, need 2: %w", len(points), ErrInsufficientPoints)
	}
	w, ok := Interpolate(points, 0, true)
	if !ok || !(w > 0) {
		return 0, fmt.Errorf("lineariv.ATMIV: no positive variance at the forward: %w", ErrNoRoot)
	}
	return math.Sqrt(w / tte), nil
}

// FixedDeltaIV finds the log-moneyness where the option's delta, priced at
// the interpolated vol, equals target, and returns the vol there. Positive
// targets are calls, negative ones puts.
func FixedDeltaIV(target float64, points []Point, tte, tol float64, allowExtrap bool, q float64) (DeltaIV, error) {
	if len(points) == 0 {
		return DeltaIV{}, fmt.Errorf("lineariv.FixedDeltaIV: %w", ErrInsufficientPoints)
	}
	if !(tte > 0) || !(tol > 0) {
		return DeltaIV{}, fmt.Errorf("lineariv.FixedDeltaIV: tte=%g tol=%g: %w", tte, tol, models.ErrInvalidParameters)
	}

	optType := models.Put
	fallback := unreadableResidual
	if target > 0 {
		optType = models.Call
		fallback = -unreadableResidual
	}
	residual := func(x float64) float64 {
		w, ok := Interpolate(points, x, allowExtrap)
		if !ok || !(w > 0) {
			return fallback
		}
		return pricing.ForwardDelta(optType, x, math.Sqrt(w/tte), tte, q) - target
	}

	lo := reach(points, points[0].X, -bracketPad, allowExtrap, tol)
	hi := reach(points, points[len(points)-1].X, bracketPad, allowExtrap, tol)
	x, err := bisect(residual, lo, hi, tol)
	if err != nil {
		return DeltaIV{}, fmt.Errorf("lineariv.FixedDeltaIV: delta %g: %w", target, err)
	}
	w, ok := Interpolate(points, x, allowExtrap)
	if !ok || !(w > 0) {
		return DeltaIV{}, fmt.Errorf("lineariv.FixedDeltaIV: delta %g: no variance at x=%g: %w", target, x, ErrNoRoot)
	}
	return DeltaIV{Delta: target, IV: math.Sqrt(w / tte), X: x}, nil
}

// reach steps from edge by pad, halving it until the smile can be read
// there. It falls back to edge itself, which is always a quoted point.
func reach(points []Point, edge, pad float64, allowExtrap bool, tol float64) float64 {
	for ; math.Abs(pad) > tol; pad /= 2 {
		if w, ok := Interpolate(points, edge+pad, allowExtrap); ok && w > 0 {
			return edge + pad
		}
	}
	return edge
}

// bisect finds a sign change of f in [lo, hi] to within tol.
func bisect(f func(float64) float64, lo, hi, tol float64) (float64, error) {
	flo, fhi := f(lo), f(hi)
	switch {
	case flo == 0:
		return lo, nil
	case fhi == 0:
		return hi, nil
	case math.Signbit(flo) == math.Signbit(fhi):
		return 0, fmt.Errorf("f(%g)=%g and f(%g)=%g: %w", lo, flo, hi, fhi, ErrNoRoot)
	}
	for i := 0; i < maxBisections && hi-lo > tol; i++ {
		mid := 0.5 * (lo + hi)
		fm := f(mid)
		if fm == 0 {
			return mid, nil
		}
		if math.Signbit(fm) == math.Signbit(flo) {
			lo, flo = mid, fm
		} else {
			hi = mid
		}
	}
	return 0.5 * (lo + hi), nil
}

// Metrics pairs each call delta with the put at the same level. The risk
// reversal is call minus put and the butterfly is their mean over ATM.
func Metrics(ivs []DeltaIV, atm float64) (metrics []DeltaMetrics, rr25, bf25 *float64) {
	for _, c := range ivs {
		if !(c.Delta > 0) {
			continue
		}
		for _, p := range ivs {
			if math.Abs(p.Delta+c.Delta) >= deltaMatchTol {
				continue
			}
			m := DeltaMetrics{
				DeltaLevel:   c.Delta,
				RiskReversal: c.IV - p.IV,
				Butterfly:    0.5*(c.IV+p.IV) - atm,
			}
			metrics = append(metrics, m)
			if math.Abs(c.Delta-rrDelta) < deltaMatchTol {
				rr, bf := m.RiskReversal, m.Butterfly
				rr25, bf25 = &rr, &bf
			}
			break
		}
	}
	return metrics, rr25, bf25
}

// Build reads ATM and every configured delta off one expiration. Deltas that
// cannot be solved are skipped.
func Build(rows []models.MarketDataRow, forward, tte float64, cfg Config, log *slog.Logger) (*Output, error) {
	if log == nil {
		log = slog.Default()
	}
	if len(rows) < cfg.MinPoints {
		return nil, fmt.Errorf("lineariv.Build: %d points, need %d: %w", len(rows), cfg.MinPoints, ErrInsufficientPoints)
	}
	if !(forward > 0) {
		return nil, fmt.Errorf("lineariv.Build: forward=%g: %w", forward, models.ErrInvalidParameters)
	}
	checkCoverage(rows, cfg.Deltas, log)

	atm, err := ATMIV(rows, forward, tte)
	if err != nil {
		return nil, fmt.Errorf("lineariv.Build: %w", err)
	}

	points := PreparePoints(rows, forward, tte)
	out := &Output{ATMIV: atm, TTE: tte}
	for _, d := range cfg.Deltas {
		iv, err := FixedDeltaIV(d, points, tte, cfg.SolverTol, cfg.AllowExtrapolation, cfg.DividendYield)
		if err != nil {
			log.Debug("delta skipped", "delta", d, "err", err)
			continue
		}
		out.DeltaIVs = append(out.DeltaIVs, iv)
	}
	out.DeltaMetrics, out.RR25, out.BF25 = Metrics(out.DeltaIVs, atm)
	return out, nil
}

// BuildFromRows takes spot and maturity from the first row and carries spot
// to the forward at the configured rate and yield.
func BuildFromRows(rows []models.MarketDataRow, cfg Config, log *slog.Logger) (*Output, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("lineariv.BuildFromRows: no rows: %w", ErrInsufficientPoints)
	}
	tte := rows[0].YearsToExp
	forward := rows[0].UnderlyingPrice * math.Exp((cfg.RiskFreeRate-cfg.DividendYield)*tte)
	return Build(rows, forward, tte, cfg, log)
}

func checkCoverage(rows []models.MarketDataRow, deltas []float64, log *slog.Logger) {
	var calls, puts bool
	for _, r := range rows {
		switch r.OptionType {
		case models.Call:
			calls = true
		case models.Put:
			puts = true
		}
	}
	var wantPuts, wantCalls bool
	for _, d := range deltas {
		wantPuts = wantPuts || d < 0
		wantCalls = wantCalls || d > 0
	}
	switch {
	case !calls && !puts:
		log.Warn("no option types in slice")
	case wantPuts && !puts:
		log.Warn("put deltas requested but slice has no puts")
	case wantCalls && !calls:
		log.Warn("call deltas requested but slice has no calls")
	}
}
