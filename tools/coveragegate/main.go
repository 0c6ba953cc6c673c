// Command coveragegate checks a Go coverage profile against the repository's
// coverage floors: the pure packages must be fully covered and the
// networking packages must stay above a threshold.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

type coverage struct {
	covered int
	total   int
}

var pureFiles = []string{
	"internal/protocol/request.go",
	"internal/protocol/response.go",
	"internal/topicstore/dedupe.go",
	"internal/topicstore/retention.go",
	"client/seen.go",
	"client/pull.go",
}

var ioFiles = []string{
	"broker/conn.go",
	"broker/handler.go",
	"broker/loop.go",
	"broker/server.go",
	"broker/writer.go",
	"broker/websocket.go",
	"broker/admin.go",
	"client/client.go",
	"internal/topicstore/store.go",
}

func parseProfile(r io.Reader) (map[string]coverage, error) {
	result := map[string]coverage{}
	scanner := bufio.NewScanner(r)
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if first {
			first = false
			if strings.HasPrefix(line, "mode:") {
				continue
			}
		}

		// file.go:startLine.startCol,endLine.endCol statements hits
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}

		statements, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("invalid statement count in line %q: %w", line, err)
		}
		hitCount, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("invalid hit count in line %q: %w", line, err)
		}

		fileName, _, found := strings.Cut(fields[0], ":")
		if !found {
			continue
		}
		entry := result[fileName]
		entry.total += statements
		if hitCount > 0 {
			entry.covered += statements
		}
		result[fileName] = entry
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func findCoverage(files map[string]coverage, suffix string) (coverage, bool) {
	for fileName, cov := range files {
		if strings.HasSuffix(fileName, "/"+suffix) || fileName == suffix {
			return cov, true
		}
	}
	return coverage{}, false
}

func pct(c coverage) float64 {
	if c.total == 0 {
		return 0
	}
	return (float64(c.covered) * 100.0) / float64(c.total)
}

type report struct {
	overall  float64
	total    coverage
	failures []string
}

func evaluate(files map[string]coverage, overallThreshold, ioThreshold float64) report {
	var r report
	for _, fileCov := range files {
		r.total.covered += fileCov.covered
		r.total.total += fileCov.total
	}
	r.overall = pct(r.total)

	if r.overall+1e-9 < overallThreshold {
		r.failures = append(r.failures, fmt.Sprintf("aggregate coverage %.1f%% is below %.1f%%", r.overall, overallThreshold))
	}

	for _, fileName := range pureFiles {
		fileCov, ok := findCoverage(files, fileName)
		if !ok {
			r.failures = append(r.failures, fmt.Sprintf("pure file %s is missing from coverage profile", fileName))
			continue
		}
		if fileCov.covered != fileCov.total {
			r.failures = append(r.failures, fmt.Sprintf("pure file %s is %.1f%% (required 100.0%%)", fileName, pct(fileCov)))
		}
	}

	for _, fileName := range ioFiles {
		fileCov, ok := findCoverage(files, fileName)
		if !ok {
			r.failures = append(r.failures, fmt.Sprintf("io file %s is missing from coverage profile", fileName))
			continue
		}
		if filePct := pct(fileCov); filePct+1e-9 < ioThreshold {
			r.failures = append(r.failures, fmt.Sprintf("io file %s is %.1f%% (required %.1f%%)", fileName, filePct, ioThreshold))
		}
	}

	sort.Strings(r.failures)
	return r
}

var errGateFailed = errors.New("coverage gate failed")

func newRootCmd() *cobra.Command {
	var profilePath string
	var overallThreshold, ioThreshold float64

	cmd := &cobra.Command{
		Use:           "coveragegate",
		Short:         "Fail when coverage drops below the repository floors",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(profilePath) // #nosec G304 -- path is explicitly provided by local CI/operator input
			if err != nil {
				return fmt.Errorf("reading profile: %w", err)
			}
			defer file.Close()

			files, err := parseProfile(file)
			if err != nil {
				return fmt.Errorf("reading profile: %w", err)
			}

			r := evaluate(files, overallThreshold, ioThreshold)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "aggregate: %.1f%% (%d/%d)\n", r.overall, r.total.covered, r.total.total)
			if len(r.failures) == 0 {
				pterm.Success.WithWriter(out).Println("coverage gate: PASS")
				return nil
			}

			pterm.Error.WithWriter(out).Println("coverage gate: FAIL")
			for _, failure := range r.failures {
				fmt.Fprintf(out, "- %s\n", failure)
			}
			return errGateFailed
		},
	}
	cmd.Flags().StringVar(&profilePath, "profile", "coverage.out", "path to go coverage profile")
	cmd.Flags().Float64Var(&overallThreshold, "overall", 85.0, "minimum aggregate coverage percentage")
	cmd.Flags().Float64Var(&ioThreshold, "io", 75.0, "minimum coverage percentage for networking files")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errGateFailed) {
			fmt.Fprintf(os.Stderr, "coveragegate: %v\n", err)
		}
		os.Exit(2)
	}
}
