package main

import (
	"os"

	"github.com/samsamfire/eposmaster/cmd/eposmaster/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
