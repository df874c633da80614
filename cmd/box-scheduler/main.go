package main

import "github.com/example/box-scheduler/cmd"

func main() {
	cmd.Execute()
}
