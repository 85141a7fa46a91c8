package main

import "github.com/naka-gawa/org-harvest/cmd"

func main() {
	cmd.Execute()
}
