package main

import (
	"github.com/oshokin/qubes-preflight/cmd/preflight-notify/cmd"
)

func main() {
	cmd.Execute()
}
