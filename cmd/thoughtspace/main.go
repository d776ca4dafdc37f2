// Command thoughtspace runs the local-first tree synchronization CLI: a
// relay server, replica push/pull/hydrate operations, subtree queries,
// op_log integrity checks, and the conformance scenario runner.
package main

import (
	"fmt"
	"os"

	"github.com/thoughtspace/sync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
