package main

import "market-scanner/internal/cli"

func main() {
	cli.Execute()
}
