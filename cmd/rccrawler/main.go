package main

import (
	"os"

	"rccrawler/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
