package main

import "github.com/forgeline/foreman/internal/cli"

func main() {
	cli.Execute()
}
