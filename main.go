package main

import (
	"os"

	"github.com/scan-io-git/triageio/cmd"
)

func main() {
	code := cmd.Execute()
	os.Exit(code)
}
