package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rendis/docgen-engine/cmd/api/bootstrap"
)

func main() {
	if err := bootstrap.New().Run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
