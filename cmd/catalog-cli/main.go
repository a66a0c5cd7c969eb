package main

import "catalogsync-backend/cmd/catalog-cli/cmd"

func main() {
	cmd.Execute()
}
