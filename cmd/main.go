package main

import "os"

func main() {
	// cobra prints the error.
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
