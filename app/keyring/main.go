package main

import "github.com/wotnet/keychain/app/keyring/cmd"

func main() {
	cmd.Execute()
}
