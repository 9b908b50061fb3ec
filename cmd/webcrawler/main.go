// Package main is the entry point of the webcrawler executable.
package main

import "os"

func main() {
	os.Exit(execute())
}
