package main

import "github.com/redentordev/paradigm/cmd"

func main() {
	cmd.Execute()
}
