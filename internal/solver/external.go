package solver

import (
	"bufio"
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"clinkerplan/internal/logging"
	"clinkerplan/internal/planning"
)

// External runs a solver binary against an LP file in a scratch directory
// and parses the solution file back into the model's column space. The
// three supported solvers differ only in binary name, argument shape, and
// solution format.
type External struct {
	name   string
	binary string
	// args builds the command line for (lp path, solution path, options).
	args func(lpPath, solPath string, opts Options) []string
	// parse reads the solution file into (values, objective, termination).
	parse func(path string, numVars int) ([]float64, float64, string, error)
}

// NewCPLEX drives the IBM CPLEX interactive optimizer.
func NewCPLEX() *External {
	return &External{
		name:   "cplex",
		binary: "cplex",
		args: func(lpPath, solPath string, opts Options) []string {
			cmds := []string{"-c", "read " + lpPath}
			if opts.TimeLimit > 0 {
				cmds = append(cmds, fmt.Sprintf("set timelimit %d", int(opts.TimeLimit.Seconds())))
			}
			if opts.MIPGap > 0 {
				cmds = append(cmds, fmt.Sprintf("set mip tolerances mipgap %g", opts.MIPGap))
			}
			return append(cmds, "optimize", "write "+solPath)
		},
		parse: parseCPLEXSolution,
	}
}

// NewHiGHS drives the HiGHS solver.
func NewHiGHS() *External {
	return &External{
		name:   "highs",
		binary: "highs",
		args: func(lpPath, solPath string, opts Options) []string {
			args := []string{"--solution_file", solPath}
			if opts.TimeLimit > 0 {
				args = append(args, "--time_limit", fmt.Sprintf("%g", opts.TimeLimit.Seconds()))
			}
			if opts.MIPGap > 0 {
				args = append(args, "--mip_rel_gap", fmt.Sprintf("%g", opts.MIPGap))
			}
			return append(args, lpPath)
		},
		parse: parseHiGHSSolution,
	}
}

// NewCBC drives the COIN-OR CBC solver.
func NewCBC() *External {
	return &External{
		name:   "cbc",
		binary: "cbc",
		args: func(lpPath, solPath string, opts Options) []string {
			args := []string{lpPath}
			if opts.TimeLimit > 0 {
				args = append(args, "seconds", fmt.Sprintf("%g", opts.TimeLimit.Seconds()))
			}
			if opts.MIPGap > 0 {
				args = append(args, "ratioGap", fmt.Sprintf("%g", opts.MIPGap))
			}
			return append(args, "solve", "solution", solPath)
		},
		parse: parseCBCSolution,
	}
}

func (e *External) Name() string { return e.name }

func (e *External) Available() bool {
	_, err := exec.LookPath(e.binary)
	return err == nil
}

func (e *External) Solve(ctx context.Context, m *planning.Model, opts Options) (*Result, error) {
	log := logging.Get(logging.CategorySolver)
	start := time.Now()

	dir, err := os.MkdirTemp("", "clinkerplan-"+e.name+"-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create solver scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	lpPath := filepath.Join(dir, "model.lp")
	solPath := filepath.Join(dir, "model.sol")
	f, err := os.Create(lpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create LP file: %w", err)
	}
	if err := writeLP(f, m); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write LP file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, e.binary, e.args(lpPath, solPath, opts)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("%s run failed: %w (output: %s)", e.name, err, truncate(string(output), 400))
	}

	values, objective, termination, err := e.parse(solPath, m.NumVars())
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s solution: %w", e.name, err)
	}
	if termination == TerminationInfeasible {
		return nil, fmt.Errorf("%w: %s proved infeasibility", ErrInfeasible, e.name)
	}
	if !acceptable(termination) {
		return nil, fmt.Errorf("%s terminated with %q", e.name, termination)
	}

	status := StatusFeasible
	if termination == TerminationOptimal {
		status = StatusOptimal
	}
	runtime := time.Since(start).Seconds()
	log.Infow("external solve finished",
		"solver", e.name, "termination", termination, "objective", objective,
		"runtime_seconds", runtime)
	return &Result{
		Status:         status,
		Solver:         e.name,
		Objective:      objective,
		RuntimeSeconds: runtime,
		Gap:            opts.MIPGap,
		Termination:    termination,
		Values:         values,
	}, nil
}

// parseCBCSolution reads CBC's text solution: a status line, then
// "index name value reduced-cost" rows.
func parseCBCSolution(path string, numVars int) ([]float64, float64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, "", err
	}
	defer f.Close()

	values := make([]float64, numVars)
	objective := 0.0
	termination := TerminationError

	scanner := bufio.NewScanner(f)
	firstLine := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if firstLine {
			firstLine = false
			lower := strings.ToLower(line)
			switch {
			case strings.HasPrefix(lower, "optimal"):
				termination = TerminationOptimal
			case strings.HasPrefix(lower, "infeasible"):
				termination = TerminationInfeasible
			case strings.Contains(lower, "stopped on time"):
				termination = TerminationTimeLimit
			case strings.Contains(lower, "stopped on iterations"):
				termination = TerminationMaxIterations
			}
			if idx := strings.Index(lower, "objective value"); idx >= 0 {
				fields := strings.Fields(line[idx:])
				if len(fields) >= 3 {
					objective, _ = strconv.ParseFloat(fields[2], 64)
				}
			}
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		col, ok := lpVarColumn(fields[1])
		if !ok || col >= numVars {
			continue
		}
		v, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			continue
		}
		values[col] = v
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, "", err
	}
	return values, objective, termination, nil
}

// parseHiGHSSolution reads HiGHS's solution file: a "Model status" header
// plus a Columns section of "name value" rows.
func parseHiGHSSolution(path string, numVars int) ([]float64, float64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, "", err
	}
	defer f.Close()

	values := make([]float64, numVars)
	objective := 0.0
	termination := TerminationError
	inColumns := false

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "model status"):
			switch {
			case strings.Contains(lower, "optimal"):
				termination = TerminationOptimal
			case strings.Contains(lower, "infeasible"):
				termination = TerminationInfeasible
			case strings.Contains(lower, "time limit"):
				termination = TerminationTimeLimit
			case strings.Contains(lower, "iteration limit"):
				termination = TerminationMaxIterations
			}
			continue
		case strings.HasPrefix(lower, "objective"):
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				objective, _ = strconv.ParseFloat(fields[len(fields)-1], 64)
			}
			continue
		case strings.HasPrefix(line, "# Columns"):
			inColumns = true
			continue
		case strings.HasPrefix(line, "#"):
			inColumns = false
			continue
		}
		if !inColumns {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		col, ok := lpVarColumn(fields[0])
		if !ok || col >= numVars {
			continue
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		values[col] = v
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, "", err
	}
	return values, objective, termination, nil
}

// cplexSolutionXML mirrors the subset of CPLEX's .sol schema the driver
// needs.
type cplexSolutionXML struct {
	Header struct {
		ObjectiveValue float64 `xml:"objectiveValue,attr"`
		SolutionStatus string  `xml:"solutionStatusString,attr"`
	} `xml:"header"`
	Variables struct {
		Values []struct {
			Name  string  `xml:"name,attr"`
			Value float64 `xml:"value,attr"`
		} `xml:"variable"`
	} `xml:"variables"`
}

func parseCPLEXSolution(path string, numVars int) ([]float64, float64, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, "", err
	}
	var sol cplexSolutionXML
	if err := xml.Unmarshal(raw, &sol); err != nil {
		return nil, 0, "", err
	}

	termination := TerminationError
	lower := strings.ToLower(sol.Header.SolutionStatus)
	switch {
	case strings.Contains(lower, "optimal"):
		termination = TerminationOptimal
	case strings.Contains(lower, "infeasible"):
		termination = TerminationInfeasible
	case strings.Contains(lower, "time limit"):
		termination = TerminationTimeLimit
	case strings.Contains(lower, "feasible"):
		termination = TerminationFeasible
	}

	values := make([]float64, numVars)
	for _, v := range sol.Variables.Values {
		if col, ok := lpVarColumn(v.Name); ok && col < numVars {
			values[col] = v.Value
		}
	}
	return values, sol.Header.ObjectiveValue, termination, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
