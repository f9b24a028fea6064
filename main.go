package main

import "csr-volunteer/commands"

func main() {
	commands.Execute()
}
