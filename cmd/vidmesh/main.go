package main

import (
	"github.com/vidmesh/vidmesh/internal/cmd"
)

func main() {
	cmd.Execute()
}
