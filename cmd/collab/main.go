// Command collab joins an end-to-end encrypted study session from a
// terminal: chat, a line based whiteboard and the participant list.
package main

import (
	"collab-lab/cmd/collab/commands"
	"os"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
