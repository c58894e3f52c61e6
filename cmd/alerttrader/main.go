package main

import "alert-trader/internal/cli"

func main() {
	cli.Execute()
}
