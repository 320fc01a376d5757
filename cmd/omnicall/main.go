// Command omnicall watches the screen for a template and notifies the
// user's devices when it appears.
package main

import (
	"os"

	"github.com/GriffinCanCode/omnicall/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
