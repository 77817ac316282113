package main

import (
	"github.com/hikarum/hashwatch/cmd/hashwatch/commands"
)

func main() {
	commands.Execute()
}
