package main

import "github.com/ppiankov/vigil/internal/cli"

func main() {
	cli.Execute()
}
