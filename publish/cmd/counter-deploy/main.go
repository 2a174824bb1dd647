package main

import (
	"os"

	"github.com/cosmo-local-credit/counterdeploy/publish/console"
)

func main() {
	a := newApp(os.Stdin, os.Stdout, os.Stderr)
	if err := a.rootCmd().Execute(); err != nil {
		console.New(os.Stderr, a.v.GetBool("no_color")).Error(err)
		os.Exit(1)
	}
}
