package main

import (
	"github.com/meridian-labs/emissions-engine/cmd"
)

func main() {
	cmd.Execute()
}
