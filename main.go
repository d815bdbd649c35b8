package main

import "github.com/jcdickinson/implindex/cmd"

func main() {
	cmd.Execute()
}
