package main

import "github.com/AIDilloBot/trustgate/internal/cli"

func main() {
	cli.Execute()
}
