package main

import (
	"os"

	"github.com/ProhibitedTV/ChoomLang/internal/cli"
)

func main() {
	code := cli.Run(os.Args[1:])
	os.Exit(code)
}
