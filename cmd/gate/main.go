package main

import "ticketgate/cmd/gate/cmd"

func main() {
	cmd.Execute()
}
