package main

import (
	"github.com/tebeka/atexit"

	"mrf24w/host/cli"
)

func main() {
	atexit.Exit(cli.Execute())
}
