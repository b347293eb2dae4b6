// Command flowrt runs the conversational flow runtime server and its
// background task worker.
package main

import (
	"log"

	"flowrt.dev/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
