package main

import "github.com/rongwang/guild-ledger/internal/cli"

func main() {
	cli.Execute()
}
