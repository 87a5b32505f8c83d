package main

import (
	"github.com/foomo/storysync/cmd"
)

func main() {
	cmd.Execute()
}
