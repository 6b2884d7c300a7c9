package main

import "github.com/shaharwiener/mcp-sql-server/cmd"

func main() {
	cmd.Execute()
}
