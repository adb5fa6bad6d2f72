package styles

import (
	"bufio"
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/kination/assetflow/internal/executor"
)

// " 3:5  ✖  Unexpected unknown property "colr"  property-no-unknown"
var stylelintLine = regexp.MustCompile(`^\s*(\d+):(\d+)\s+(✖|⚠|×|‼)\s+(.+?)\s{2,}(\S+)\s*$`)

// ParseStylelint reads problems from stylelint's "string" formatter.
// Output that cannot be parsed is kept as a single problem so nothing is lost.
func ParseStylelint(out []byte, entry string) []executor.Problem {
	var problems []executor.Problem
	file := entry

	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		m := stylelintLine.FindStringSubmatch(line)
		if m == nil {
			// Unindented lines name the file the following problems belong to.
			if !strings.HasPrefix(line, " ") && !strings.ContainsAny(trimmed, "✖⚠×‼") {
				file = trimmed
			}
			continue
		}
		ln, _ := strconv.Atoi(m[1])
		col, _ := strconv.Atoi(m[2])
		sev := executor.SeverityError
		if m[3] == "⚠" || m[3] == "‼" {
			sev = executor.SeverityWarning
		}
		problems = append(problems, executor.Problem{
			File:     file,
			Line:     ln,
			Column:   col,
			Severity: sev,
			Message:  m[4],
			Rule:     m[5],
		})
	}

	if len(problems) == 0 {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = "stylelint reported problems"
		}
		problems = append(problems, executor.Problem{File: entry, Severity: executor.SeverityError, Message: msg})
	}
	return problems
}
