// Command vault-mirror is the CLI entry point for the IIIF manuscript
// mirror: resolving shelfmarks/URLs, submitting downloads, polling job
// progress, and inspecting the local catalog.
package main

import "vault-iiif-mirror/cmd/vault-mirror/cmd"

func main() {
	cmd.Execute()
}
