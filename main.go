// The main package for the review-harvester executable.
package main

import (
	"github.com/JakeFAU/review-harvester/cmd"
)

func main() {
	cmd.Execute()
}
