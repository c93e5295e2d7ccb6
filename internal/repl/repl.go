// Package repl implements the interactive console: read a line, run it
// against a Session, print the structured result.
package repl

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/leengari/mini-rdbms/internal/registry"
	"github.com/leengari/mini-rdbms/internal/session"
)

// Start runs an interactive console against reg until the user quits.
func Start(reg *registry.Registry) {
	sess := session.New(reg)
	defer sess.Close()

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("mini-rdbms")
	fmt.Println("Type 'exit' or '\\q' to quit.")

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()

		if strings.TrimSpace(line) == "" {
			continue
		}
		if line == "exit" || line == "\\q" {
			return
		}

		res, err := sess.Execute(line)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		PrintResult(os.Stdout, res)
	}
}

// PrintResult renders an ExecResult as a message and/or a tab-aligned
// table of rows.
func PrintResult(w io.Writer, res *session.ExecResult) {
	if res.Message != "" {
		fmt.Fprintln(w, res.Message)
	}

	if len(res.Columns) == 0 {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	for i, col := range res.Columns {
		fmt.Fprint(tw, col)
		if i < len(res.Columns)-1 {
			fmt.Fprint(tw, "\t")
		}
	}
	fmt.Fprintln(tw)

	for i := range res.Columns {
		fmt.Fprint(tw, "---")
		if i < len(res.Columns)-1 {
			fmt.Fprint(tw, "\t")
		}
	}
	fmt.Fprintln(tw)

	for _, row := range res.Rows {
		for i, col := range res.Columns {
			val, ok := row[col]
			if !ok {
				fmt.Fprint(tw, "NULL")
			} else {
				fmt.Fprintf(tw, "%v", val)
			}
			if i < len(res.Columns)-1 {
				fmt.Fprint(tw, "\t")
			}
		}
		fmt.Fprintln(tw)
	}

	fmt.Fprintf(tw, "(%d rows, %s)\n", res.ResultRows, formatElapsed(res.ElapsedNs))
	tw.Flush()
}

func formatElapsed(ns int64) string {
	if ns < 1_000_000 {
		return fmt.Sprintf("%.2fms", float64(ns)/1e6)
	}
	return fmt.Sprintf("%.3fs", float64(ns)/1e9)
}
