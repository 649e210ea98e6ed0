package main

import (
	"os"

	"github.com/rabbyhub/desktop-ipc/cmd/rabby-ipcctl/commands"
)

var version = "dev"

func main() {
	if err := commands.Execute(version); err != nil {
		os.Exit(1)
	}
}
