package main

import (
	"os"

	"github.com/farm-stack/farm/cmd"
)

var version = "0.1.0"

func main() {
	os.Exit(cmd.Execute(version))
}
