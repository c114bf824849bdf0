// ABOUTME: Entry point for the rpcd JSON-RPC server and its process controller
// ABOUTME: Parses the command line and exits with the command's status code

package main

import "os"

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
