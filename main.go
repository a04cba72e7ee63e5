package main

import "qrlabel-backend/cmd"

func main() {
	cmd.Run()
}
