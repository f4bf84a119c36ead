// prize-signer is the offline companion tool for the crossword prize server.
// It generates trusted-signer keypairs and issues completion signatures, so
// the signing key never has to live on the server host.
package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/tyler-smith/go-bip39"
	"github.com/urfave/cli"

	"github.com/crossplay/crossword-prizes/signing"
)

func main() {
	app := cli.NewApp()
	app.Name = "prize-signer"
	app.Usage = "generate trusted-signer keys and sign crossword completions"
	app.Commands = []cli.Command{
		{
			Name:  "keygen",
			Usage: "generate a new signer keypair (or restore one from a mnemonic)",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "mnemonic", Usage: "restore from an existing BIP39 mnemonic instead of generating one"},
			},
			Action: keygenAction,
		},
		{
			Name:  "sign",
			Usage: "sign a completion claim",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "key", Usage: "signer private key, hex"},
				cli.StringFlag{Name: "user", Usage: "account id of the solver"},
				cli.StringFlag{Name: "crossword", Usage: "crossword id"},
				cli.Int64Flag{Name: "duration-ms", Usage: "solve duration in milliseconds"},
				cli.StringFlag{Name: "deployment", Usage: "deployment id the signature is bound to"},
			},
			Action: signAction,
		},
		{
			Name:  "verify",
			Usage: "check a completion signature against a public key",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "pubkey", Usage: "signer public key, hex (compressed)"},
				cli.StringFlag{Name: "user"},
				cli.StringFlag{Name: "crossword"},
				cli.Int64Flag{Name: "duration-ms"},
				cli.StringFlag{Name: "deployment"},
				cli.StringFlag{Name: "signature", Usage: "signature to check, hex"},
			},
			Action: verifyAction,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func keygenAction(c *cli.Context) error {
	mnemonic := strings.TrimSpace(c.String("mnemonic"))
	if mnemonic == "" {
		entropy, err := bip39.NewEntropy(256)
		if err != nil {
			return err
		}
		mnemonic, err = bip39.NewMnemonic(entropy)
		if err != nil {
			return err
		}
	} else if !bip39.IsMnemonicValid(mnemonic) {
		return errors.New("invalid mnemonic")
	}

	seed := bip39.NewSeed(mnemonic, "")
	priv := secp256k1.PrivKeyFromBytes(seed[:32])
	pub := priv.PubKey()

	fmt.Println("mnemonic:   ", mnemonic)
	fmt.Println("private key:", hex.EncodeToString(priv.Serialize()))
	fmt.Println("public key: ", hex.EncodeToString(pub.SerializeCompressed()))
	return nil
}

func signAction(c *cli.Context) error {
	keyHex := strings.TrimSpace(c.String("key"))
	user := strings.TrimSpace(c.String("user"))
	crossword := strings.TrimSpace(c.String("crossword"))
	durationMs := c.Int64("duration-ms")
	deployment := strings.TrimSpace(c.String("deployment"))
	if keyHex == "" || user == "" || crossword == "" || deployment == "" {
		return errors.New("key, user, crossword and deployment are required")
	}
	if durationMs <= 0 {
		return errors.New("duration-ms must be positive")
	}

	keyBytes, err := hex.DecodeString(keyHex)
	if err != nil {
		return fmt.Errorf("bad private key hex: %w", err)
	}
	priv := secp256k1.PrivKeyFromBytes(keyBytes)

	sig, err := signing.SignCompletion(priv, user, crossword, durationMs, deployment)
	if err != nil {
		return err
	}
	fmt.Println(hex.EncodeToString(sig))
	return nil
}

func verifyAction(c *cli.Context) error {
	pubBytes, err := hex.DecodeString(strings.TrimSpace(c.String("pubkey")))
	if err != nil {
		return fmt.Errorf("bad public key hex: %w", err)
	}
	pub, err := secp256k1.ParsePubKey(pubBytes)
	if err != nil {
		return fmt.Errorf("bad public key: %w", err)
	}
	sig, err := hex.DecodeString(strings.TrimSpace(c.String("signature")))
	if err != nil {
		return fmt.Errorf("bad signature hex: %w", err)
	}

	ok := signing.VerifyCompletion(pub, strings.TrimSpace(c.String("user")),
		strings.TrimSpace(c.String("crossword")), c.Int64("duration-ms"),
		strings.TrimSpace(c.String("deployment")), sig)
	if !ok {
		return errors.New("signature is NOT valid")
	}
	fmt.Println("signature is valid")
	return nil
}
