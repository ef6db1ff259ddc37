// The main package for the scrapeline executable.
package main

import (
	"github.com/scrapeline/scrapeline/cmd"
)

func main() {
	cmd.Execute()
}
