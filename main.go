package main

import (
	"twmarket_backend/cmd"
)

func main() {
	cmd.Execute()
}
