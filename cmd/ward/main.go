package main

import "github.com/ward-ops/ward/cmd/ward/cmd"

func main() {
	cmd.Execute()
}
