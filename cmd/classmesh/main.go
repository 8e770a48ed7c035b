// Command classmesh runs classroom simulations from scenario files.
//
//	classmesh validate --scenario class.yaml
//	classmesh run --scenario class.yaml --ticks 480 --db data/class.db
//	classmesh serve --scenario class.yaml --addr :8010
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
