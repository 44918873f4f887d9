package surface

import (
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/xhhuango/json"

	"github.com/bcdannyboy/volsurf/lineariv"
	"github.com/bcdannyboy/volsurf/realized"
)

// WriteTable prints one line per slice.
func WriteTable(w io.Writer, fits []SliceFit) error {
	table := tablewriter.NewWriter(w)
	table.Header("Expiry", "Rows", "a", "b", "rho", "m", "sigma", "Objective", "ATM IV", "Linear ATM", "RR25", "BF25", "Status", "Note")

	for _, f := range fits {
		atm, rr, bf := linearCells(f.LinearIV)
		if !f.OK() {
			table.Append(f.Expiration.Label, fmt.Sprintf("%d", f.Expiration.Count), "", "", "", "", "", "", "", atm, rr, bf, "failed", f.Error)
			continue
		}
		p := f.Result.Params
		note := f.Butterfly
		if note == "" && len(f.Result.Warnings) > 0 {
			note = f.Result.Warnings[0]
		}
		table.Append(
			f.Expiration.Label,
			fmt.Sprintf("%d/%d", f.Result.Diagnostics.RowsUsed, f.Expiration.Count),
			fmt.Sprintf("%.6f", p.A),
			fmt.Sprintf("%.6f", p.B),
			fmt.Sprintf("%.4f", p.Rho),
			fmt.Sprintf("%.4f", p.M),
			fmt.Sprintf("%.4f", p.Sigma),
			fmt.Sprintf("%.3e", f.Result.Objective),
			fmt.Sprintf("%.2f%%", 100*p.ImpliedVol(0)),
			atm, rr, bf,
			f.Result.Status.String(),
			note,
		)
	}
	return table.Render()
}

func linearCells(o *lineariv.Output) (atm, rr, bf string) {
	if o == nil {
		return "-", "-", "-"
	}
	atm, rr, bf = fmt.Sprintf("%.2f%%", 100*o.ATMIV), "-", "-"
	if o.RR25 != nil {
		rr = fmt.Sprintf("%+.2f%%", 100**o.RR25)
	}
	if o.BF25 != nil {
		bf = fmt.Sprintf("%+.2f%%", 100**o.BF25)
	}
	return atm, rr, bf
}

// WriteRealized prints the realized vol windows next to each other.
func WriteRealized(w io.Writer, s realized.Summary) error {
	table := tablewriter.NewWriter(w)
	table.Header("Window", "Garman-Klass", "Parkinson", "Close-Close")
	for _, win := range []string{"1w", "1m", "3m", "6m", "1y"} {
		if _, ok := s.GarmanKlass[win]; !ok {
			continue
		}
		table.Append(win, pct(s.GarmanKlass, win), pct(s.Parkinson, win), pct(s.CloseToClose, win))
	}
	return table.Render()
}

func pct(m map[string]float64, key string) string {
	v, ok := m[key]
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%.2f%%", 100*v)
}

// Report is the JSON document written for a run.
type Report struct {
	Preset   string            `json:"preset"`
	Symbol   string            `json:"symbol,omitempty"`
	Realized *realized.Summary `json:"realized,omitempty"`
	Fits     []SliceFit        `json:"fits"`
}

func WriteJSON(path string, r Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("surface.WriteJSON: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("surface.WriteJSON: %w", err)
	}
	return nil
}
