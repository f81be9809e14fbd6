package main

import "github.com/hradilp/face-finder/cmd"

func main() {
	cmd.Execute()
}
