package main

import (
	"context"

	"github.com/stanleylei/price-alert/cmd/pricealert/commands"
)

func main() {
	commands.ExecuteContext(context.Background())
}
