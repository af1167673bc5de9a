// Command dlmctl is the interactive client for the dlmd HTTP API.
//
// Usage:
//
//	dlmctl [flags] [command [args...]]
//
// Flags:
//
//	-addr string   Daemon base URL (default "http://127.0.0.1:8080")
//
// With a command on the command line, dlmctl runs it once and exits.
// Without one, it starts an interactive shell:
//
//	dlm> status
//	dlm> stations
//	dlm> power cp-1 11
//	dlm> watch
//
// Type "help" in the shell for the full command list.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8080", "daemon base URL")
	flag.Parse()

	c := newClient(strings.TrimRight(*addr, "/"))

	if args := flag.Args(); len(args) > 0 {
		if err := runCommand(c, args[0], args[1:]); err != nil {
			fmt.Fprintln(os.Stderr, "dlmctl:", err)
			os.Exit(1)
		}
		return
	}

	if err := runShell(c); err != nil {
		fmt.Fprintln(os.Stderr, "dlmctl:", err)
		os.Exit(1)
	}
}
