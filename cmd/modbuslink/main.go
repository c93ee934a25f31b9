// Package main provides a Modbus master and slave CLI covering the TCP, RTU
// and RTU-over-TCP encapsulations.
package main

import (
	"fmt"
	"os"
)

var version = "1.0.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
