// cmd/tokentrace/main.go
package main

import (
	cmd "github.com/mwiater/tokentrace/internal/commands"
)

// Set with -ldflags "-X main.version=... -X main.commit=... -X main.date=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	setVersionInfo = cmd.SetVersionInfo
	executeCmd     = cmd.Execute
)

// main injects build metadata and hands off to the cobra root command.
func main() {
	setVersionInfo(version, commit, date)
	executeCmd()
}
