package main

import "github.com/logmesh/logmesh/internal/cmd"

func main() {
	cmd.Execute()
}
