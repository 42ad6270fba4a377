package main

import (
	"context"
	"fmt"
	"os"

	"github.com/doeshing/cadsmith/internal/infrastructure/cli"
)

func main() {
	app := cli.New(cli.Options{Verbose: os.Getenv("CADSMITH_DEBUG") == "1"})
	if err := app.Execute(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
