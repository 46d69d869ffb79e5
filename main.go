package main

import "github.com/nextlevelbuilder/botparty/cmd"

func main() {
	cmd.Execute()
}
