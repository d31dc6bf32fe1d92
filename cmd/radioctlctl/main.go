// radioctlctl -- command-line client for the radioctl remote-control socket.
package main

import "github.com/drexelwireless/dragonradio-sub000/cmd/radioctlctl/commands"

func main() {
	commands.Execute()
}
