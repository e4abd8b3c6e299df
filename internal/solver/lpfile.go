package solver

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strings"

	"clinkerplan/internal/planning"
)

// The external solvers all consume the CPLEX-LP text format. Variables are
// emitted as x<column> so names stay within every solver's identifier
// rules; the model's own names carry commas and parentheses.

// writeLP renders the model in CPLEX-LP format.
func writeLP(w io.Writer, m *planning.Model) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintln(bw, "\\ clinkerplan planning model")
	fmt.Fprintln(bw, "Minimize")
	fmt.Fprint(bw, " obj:")
	first := true
	for j, v := range m.Vars {
		if v.Cost == 0 {
			continue
		}
		writeTerm(bw, &first, v.Cost, j)
	}
	if first {
		// Every LP needs an objective expression; a zero-cost column keeps
		// parsers happy.
		fmt.Fprint(bw, " 0 x0")
	}
	fmt.Fprintln(bw)

	fmt.Fprintln(bw, "Subject To")
	for i, c := range m.Cons {
		fmt.Fprintf(bw, " c%d:", i)
		first := true
		for j := 0; j < m.NumVars(); j++ {
			if coeff, ok := c.Coeffs[j]; ok && coeff != 0 {
				writeTerm(bw, &first, coeff, j)
			}
		}
		if first {
			fmt.Fprint(bw, " 0 x0")
		}
		op := "<="
		switch c.Sense {
		case planning.GE:
			op = ">="
		case planning.EQ:
			op = "="
		}
		fmt.Fprintf(bw, " %s %.12g\n", op, c.RHS)
	}

	fmt.Fprintln(bw, "Bounds")
	for j, v := range m.Vars {
		switch {
		case v.Type == planning.Binary:
			// Binaries section carries the bounds.
		case math.IsInf(v.Upper, 1):
			if v.Lower != 0 {
				fmt.Fprintf(bw, " x%d >= %.12g\n", j, v.Lower)
			}
		default:
			fmt.Fprintf(bw, " %.12g <= x%d <= %.12g\n", v.Lower, j, v.Upper)
		}
	}

	var generals, binaries []string
	for j, v := range m.Vars {
		switch v.Type {
		case planning.Integer:
			generals = append(generals, fmt.Sprintf("x%d", j))
		case planning.Binary:
			binaries = append(binaries, fmt.Sprintf("x%d", j))
		}
	}
	if len(generals) > 0 {
		fmt.Fprintln(bw, "Generals")
		fmt.Fprintln(bw, " "+strings.Join(generals, " "))
	}
	if len(binaries) > 0 {
		fmt.Fprintln(bw, "Binaries")
		fmt.Fprintln(bw, " "+strings.Join(binaries, " "))
	}
	fmt.Fprintln(bw, "End")
	return bw.Flush()
}

func writeTerm(w io.Writer, first *bool, coeff float64, col int) {
	sign := "+"
	if coeff < 0 {
		sign = "-"
		coeff = -coeff
	}
	if *first && sign == "+" {
		fmt.Fprintf(w, " %.12g x%d", coeff, col)
	} else {
		fmt.Fprintf(w, " %s %.12g x%d", sign, coeff, col)
	}
	*first = false
}

// lpVarColumn parses an x<column> identifier back to its column index.
func lpVarColumn(name string) (int, bool) {
	if len(name) < 2 || name[0] != 'x' {
		return 0, false
	}
	col := 0
	for _, ch := range name[1:] {
		if ch < '0' || ch > '9' {
			return 0, false
		}
		col = col*10 + int(ch-'0')
	}
	return col, true
}
