package main

import "github.com/example/face-compare/cmd"

func main() {
	cmd.Execute()
}
