package main

import "github.com/jake-scott/bravia-control/cmd"

func main() {
	cmd.Execute()
}
