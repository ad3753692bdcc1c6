package main

import (
	"github.com/mnemograph/mnemo/cmd/mnemo/commands"
)

func main() {
	commands.Execute()
}
