package main

import "github.com/KaramelBytes/agentviz-cli/cmd"

func main() {
	cmd.Execute()
}
