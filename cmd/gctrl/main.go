// Command gctrl bridges interactive clients to CNC motion controllers over
// a serial link: the Grbl/Smoothieware and TinyG2/g2core streaming cores,
// fronted by a small cobra CLI (serve, stream, version).
package main

import "github.com/cncbridge/gctrl/cmd/gctrl/commands"

func main() {
	commands.Execute()
}
