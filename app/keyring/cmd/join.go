package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/wotnet/keychain/foundation/keychain/database"
	"github.com/wotnet/keychain/foundation/keychain/pgp"
)

var currency string

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Sign and submit a JOIN membership for the key",
	Run:   joinRun,
}

func init() {
	joinCmd.Flags().StringVarP(&currency, "currency", "c", "", "Currency the target chain carries.")
	joinCmd.MarkFlagRequired("currency")
	rootCmd.AddCommand(joinCmd)
}

func joinRun(cmd *cobra.Command, args []string) {
	armoredPriv, err := os.ReadFile(privateKeyPath())
	if err != nil {
		log.Fatal(err)
	}
	signer, err := pgp.LoadSigner(string(armoredPriv))
	if err != nil {
		log.Fatal(err)
	}

	armoredPub, err := os.ReadFile(publicKeyPath())
	if err != nil {
		log.Fatal(err)
	}
	key, err := pgp.Lib{}.Decompose(string(armoredPub))
	if err != nil {
		log.Fatal(err)
	}

	ms := database.Membership{
		Version:    1,
		Currency:   currency,
		Issuer:     database.Fingerprint(signer.Fingerprint()),
		UserID:     key.UserID,
		Membership: database.MembershipIn,
		Date:       time.Now().UTC().Unix(),
	}

	sig, err := signer.Sign(ms.Raw())
	if err != nil {
		log.Fatal(err)
	}
	ms.Signature = sig

	payload := struct {
		Version    uint32 `json:"version"`
		Currency   string `json:"currency"`
		Issuer     string `json:"issuer"`
		UserID     string `json:"userid"`
		Membership string `json:"membership"`
		Date       int64  `json:"date"`
		Signature  string `json:"signature"`
		Pubkey     string `json:"pubkey"`
	}{
		Version:    ms.Version,
		Currency:   ms.Currency,
		Issuer:     string(ms.Issuer),
		UserID:     ms.UserID,
		Membership: ms.Membership,
		Date:       ms.Date,
		Signature:  ms.Signature,
		Pubkey:     string(armoredPub),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Fatal(err)
	}

	resp, err := http.Post(fmt.Sprintf("%s/v1/membership/add", nodeURL), "application/json", bytes.NewReader(data))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("%s\n", body)
}
