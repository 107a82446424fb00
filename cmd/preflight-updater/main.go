package main

import (
	"github.com/oshokin/qubes-preflight/cmd/preflight-updater/cmd"
)

func main() {
	cmd.Execute()
}
