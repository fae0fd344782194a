package clientapp

import (
	"fmt"
	"io"
	"strings"
)

// maxQueryResults is the number of query hits shown
const maxQueryResults = 10

// PrintOutcome writes the results of a test set
func PrintOutcome(w io.Writer, o *Outcome) {
	fmt.Fprintf(w, "\n  set %d: %s\n", o.SetNumber, o.Results.TestKey)
	for _, r := range o.Results.Results {
		fmt.Fprintf(w, "    %-20s %s\n", r.TestName, r.Status)
		for _, line := range strings.Split(strings.TrimRight(r.Log, "\n"), "\n") {
			fmt.Fprintf(w, "      %s\n", line)
		}
	}
	if len(o.LogFiles) > 0 {
		fmt.Fprintf(w, "  stored as %s\n", strings.Join(o.LogFiles, ", "))
	}
}

// PrintQueryResults writes at most the first ten query hits
func PrintQueryResults(w io.Writer, text string, files []string) {
	fmt.Fprintf(w, "\n  logs containing %q: %d\n", text, len(files))
	for i, f := range files {
		if i == maxQueryResults {
			fmt.Fprintf(w, "    ... %d more\n", len(files)-maxQueryResults)
			break
		}
		fmt.Fprintf(w, "    %s\n", f)
	}
}
