package main

import (
	"context"
	"os"

	"github.com/ayusman/gasketvision/internal/cli"
)

var version = "dev"

func main() {
	os.Exit(cli.Execute(context.Background(), version, os.Args[1:]))
}
