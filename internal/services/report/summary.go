package report

import (
	"bufio"
	"fmt"
	"io"

	"EOSFit/internal/domain/eos"
	"EOSFit/internal/domain/models"
)

var screenLabel = map[eos.Tag]string{
	eos.SecondOrder: "2bmeos",
	eos.ThirdOrder:  "3bmeos",
	eos.Vinet:       "vinet",
	eos.Alpha:       "alpha",
	eos.AlphaBeta:   "abeos",
	eos.Modified:    "m_eos",
	eos.Keane:       "keane",
}

// Summary prints one line per result with E0 (energy fits only), V0,
// K0 in GPa and K0'. Failed fits are flagged after the numbers.
func Summary(w io.Writer, results []models.FitResult) error {
	bw := bufio.NewWriter(w)
	if len(results) > 0 {
		if results[0].Kind == eos.Energy {
			fmt.Fprintf(bw, "%-6s %15s %15s %15s %15s\n", "model", "E0", "V0", "K0", "K0'")
		} else {
			fmt.Fprintf(bw, "%-6s %15s %15s %15s\n", "model", "V0", "K0", "K0'")
		}
	}
	for _, r := range results {
		label := screenLabel[r.Model]
		if label == "" {
			label = string(r.Model)
		}
		fmt.Fprintf(bw, "%-6s ", label)
		if r.Kind == eos.Energy {
			fmt.Fprintf(bw, numFmt+" ", r.Params.E0)
		}
		fmt.Fprintf(bw, numFmt+" "+numFmt+" "+numFmt, r.Params.V0, r.K0GPa(), r.KPrime)
		if !r.Converged {
			fmt.Fprintf(bw, "  (failed: %s)", r.Failure)
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}
