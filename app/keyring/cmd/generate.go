package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/wotnet/keychain/foundation/keychain/pgp"
)

var userID string

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new key pair with a udid2 identity",
	Run:   generateRun,
}

func init() {
	generateCmd.Flags().StringVarP(&userID, "userid", "i", "", "udid2 identity text, e.g. udid2;c;DOE;JOHN;1980-07-03;e+47.47+000.56;0;")
	generateCmd.MarkFlagRequired("userid")
	rootCmd.AddCommand(generateCmd)
}

func generateRun(cmd *cobra.Command, args []string) {
	entity, err := pgp.GenerateKey(userID)
	if err != nil {
		log.Fatal(err)
	}

	private, err := pgp.ArmorPrivate(entity)
	if err != nil {
		log.Fatal(err)
	}
	public, err := pgp.ArmorPublic(entity)
	if err != nil {
		log.Fatal(err)
	}

	if err := os.MkdirAll(keyringPath, 0755); err != nil {
		log.Fatal(err)
	}
	if err := os.WriteFile(privateKeyPath(), []byte(private), 0600); err != nil {
		log.Fatal(err)
	}
	if err := os.WriteFile(publicKeyPath(), []byte(public), 0644); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("generated %s and %s\n", privateKeyPath(), publicKeyPath())
}
