// Command voicestream plays audio into a Discord voice channel.
//
// Usage:
//
//	voicestream [flags] <command> [args]
//
// Commands:
//
//	play   - join $VOICE_ID and play a file, URL or object
//	probe  - print the page and packet layout of an Ogg/Opus file
//
// Configuration is read from the environment, optionally seeded from a .env
// file. See internal/config for the variables.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
