// Atlas - Cross-file dependency graphs for polyglot repositories.
//
// Atlas analyzes Java, Go, TypeScript and Python codebases into a
// class-level dependency graph, keeps it in sync with git history, and
// serves it through a query CLI and an MCP server.
package main

import (
	"fmt"
	"os"

	"github.com/atlas-dev/atlas-go/cmd"
)

func main() {
	cli := cmd.NewCLI()

	if err := cli.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
