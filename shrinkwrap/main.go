package main

import "shrinkwrap-tools/go/shrinkwrap/cmd"

func main() {
	cmd.Execute()
}
