package main

import "github.com/RedRozio/moris-slave/cmd"

func main() {
	cmd.Execute()
}
