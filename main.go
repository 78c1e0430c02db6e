package main

import "github.com/cairnhq/cairn/cmd"

func main() {
	cmd.Execute()
}
