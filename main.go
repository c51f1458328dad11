package main

import (
	"log"

	"github.com/ca-srg/lastmsg/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
