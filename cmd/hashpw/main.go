package main

import (
	"os"

	"github.com/dmitrijs2005/agriflow/internal/hashpw"
)

func main() {
	os.Exit(hashpw.Run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
