package main

import (
	"os"

	"k8s.io/component-base/cli"
)

func main() {
	command := newRootCommand()
	code := cli.Run(command)
	os.Exit(code)
}
