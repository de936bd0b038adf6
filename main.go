package main

import "github.com/nextlevelbuilder/morgana/cmd"

func main() {
	cmd.Execute()
}
