package main

import "github.com/boardvault/migrate/internal/cli"

func main() {
	cli.Execute()
}
