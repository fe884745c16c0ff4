// Command pwvault is a local password vault: it keeps website credentials
// encrypted under one master password, locks out repeated wrong guesses and
// auto-locks idle sessions.
package main

import (
	"fmt"
	"os"
)

func main() {
	registerCompletionFunctions()

	err := rootCmd.Execute()
	closeVault()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
