package main

import (
	"os"

	"github.com/hatlonely/cdcgen/cli"
)

func main() {
	os.Exit(cli.Execute())
}
