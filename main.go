package main

import (
	"github.com/0bliviat3/my-framework-core-back-end-sub001/cmd"
	"log"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatalf("could not start application: %v", err)
	}
}
