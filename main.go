package main

import "github.com/ethanwills/claude-gateway/cmd"

func main() {
	cmd.Execute()
}
