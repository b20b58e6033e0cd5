package main

import "github.com/instanttrade/itnd/internal/cli"

func main() {
	cli.Execute()
}
