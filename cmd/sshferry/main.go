// sshferry is a multi-site SSH/SFTP file transfer engine.
package main

import (
	"fmt"
	"os"

	"github.com/sshferry/sshferry/internal/cliapp"
	"github.com/sshferry/sshferry/internal/version"
)

func main() {
	cliapp.Version = version.Version
	cliapp.BuildTime = version.BuildTime

	if err := cliapp.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
