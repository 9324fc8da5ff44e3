// Command ertviz is the command line front end of the ensemble viewer.
package main

import (
	"context"
	"os"

	"github.com/turtacn/ertviz/internal/interfaces/cli"
)

func main() {
	if err := cli.Execute(context.Background()); err != nil {
		os.Exit(1)
	}
}
