package main

import "github.com/EvanSchalton/Tmux-Orchestrator/internal/cli"

func main() {
	cli.Execute()
}
