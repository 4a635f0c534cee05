package main

import "github.com/povchingiz/google-meet-recording/internal/cli"

func main() {
	cli.Execute()
}
