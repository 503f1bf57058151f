// Package cmd contains the keyring app: key generation and membership
// submission for a keychain node.
package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	keyName     string
	keyringPath string
	nodeURL     string
)

const (
	privateExtension = ".key"
	publicExtension  = ".asc"
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&keyName, "name", "n", "node1", "Name of the key inside the keyring.")
	rootCmd.PersistentFlags().StringVarP(&keyringPath, "keyring", "k", "zchain/keyring/", "Path to the directory with key files.")
	rootCmd.PersistentFlags().StringVarP(&nodeURL, "node", "u", "http://localhost:8080", "Public URL of the node to talk to.")
}

var rootCmd = &cobra.Command{
	Use:   "keyring",
	Short: "Manage keys and memberships for a keychain node",
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func privateKeyPath() string {
	return filepath.Join(keyringPath, keyName+privateExtension)
}

func publicKeyPath() string {
	return filepath.Join(keyringPath, keyName+publicExtension)
}
