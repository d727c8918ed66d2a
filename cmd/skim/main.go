package main

import "github.com/skimlang/skim/cmd/skim/commands"

func main() {
	commands.Execute()
}
