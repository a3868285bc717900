package main

import (
	"os"

	"ossmatch/internal/ui/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
