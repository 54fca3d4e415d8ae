// Package main is the entry point for pinglue.
package main

func main() {
	Execute()
}
