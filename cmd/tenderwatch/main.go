package main

import (
	"context"

	"tenderwatch/cmd/tenderwatch/commands"
)

func main() {
	commands.ExecuteContext(context.Background())
}
