package main

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"log"
	"os"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/flashbots/go-utils/signature"
	"github.com/urfave/cli/v2"

	"github.com/keyhaven/guardian-recovery-backend/interfaces"
	"github.com/keyhaven/guardian-recovery-backend/verifier"
)

var flagPrivkeyFile = &cli.StringFlag{
	Name:  "privkey-file",
	Value: "guardian-private.pem",
	Usage: "path to the PEM private key",
}
var flagPubkeyFile = &cli.StringFlag{
	Name:  "pubkey-file",
	Value: "guardian-public.pem",
	Usage: "path to the PEM public key",
}
var flagKeyType = &cli.StringFlag{
	Name:  "type",
	Value: "ecdsa",
	Usage: "key type to generate: ecdsa or ed25519",
}
var flagWalletKeyFile = &cli.StringFlag{
	Name:  "wallet-key-file",
	Value: "wallet-private.hex",
	Usage: "path to the hex-encoded wallet private key",
}
var flagCodeSecret = &cli.StringFlag{
	Name:  "code-secret",
	Usage: "hex-encoded shared secret for one-time codes",
}
var flagOut = &cli.StringFlag{
	Name:  "out",
	Usage: "write the proof to this path instead of stdout",
}
var flagGuardian = &cli.StringFlag{
	Name:     "guardian",
	Usage:    "guardian id",
	Required: true,
}
var flagOwner = &cli.StringFlag{
	Name:     "owner",
	Usage:    "owner id",
	Required: true,
}
var flagRequest = &cli.StringFlag{
	Name:     "request",
	Usage:    "recovery request id",
	Required: true,
}
var flagReason = &cli.StringFlag{
	Name:     "reason",
	Usage:    "dispute reason; must match the reason submitted with the dispute",
	Required: true,
}

func main() {
	app := &cli.App{
		Name:  "guardiankey",
		Usage: "generate guardian keys and sign recovery challenges",
		Commands: []*cli.Command{
			{
				Name:  "generate",
				Usage: "generate a PEM keypair for guardian or owner signatures",
				Flags: []cli.Flag{flagKeyType, flagPrivkeyFile, flagPubkeyFile},
				Action: func(cCtx *cli.Context) error {
					return generateKeypair(cCtx.String(flagKeyType.Name),
						cCtx.String(flagPrivkeyFile.Name),
						cCtx.String(flagPubkeyFile.Name))
				},
			},
			{
				Name:  "generate-wallet",
				Usage: "generate an Ethereum wallet key",
				Flags: []cli.Flag{flagWalletKeyFile},
				Action: func(cCtx *cli.Context) error {
					privateKey, err := ethcrypto.GenerateKey()
					if err != nil {
						return err
					}
					keyHex := hex.EncodeToString(ethcrypto.FromECDSA(privateKey))
					if err := os.WriteFile(cCtx.String(flagWalletKeyFile.Name), []byte(keyHex), 0600); err != nil {
						return err
					}
					fmt.Println("address:", ethcrypto.PubkeyToAddress(privateKey.PublicKey).Hex())
					return nil
				},
			},
			{
				Name:  "accept-proof",
				Usage: "sign an invitation acceptance challenge",
				Flags: signingFlags(flagGuardian, flagOwner),
				Action: func(cCtx *cli.Context) error {
					challenge := interfaces.AcceptChallenge(
						interfaces.GuardianID(cCtx.String(flagGuardian.Name)),
						interfaces.OwnerID(cCtx.String(flagOwner.Name)))
					return signChallenge(cCtx, challenge)
				},
			},
			{
				Name:  "approval-proof",
				Usage: "sign a recovery approval challenge",
				Flags: signingFlags(flagRequest, flagGuardian),
				Action: func(cCtx *cli.Context) error {
					challenge := interfaces.ApprovalChallenge(
						interfaces.RequestID(cCtx.String(flagRequest.Name)),
						interfaces.GuardianID(cCtx.String(flagGuardian.Name)))
					return signChallenge(cCtx, challenge)
				},
			},
			{
				Name:  "dispute-proof",
				Usage: "sign an owner dispute challenge",
				Flags: signingFlags(flagRequest, flagOwner, flagReason),
				Action: func(cCtx *cli.Context) error {
					challenge := interfaces.DisputeChallenge(
						interfaces.RequestID(cCtx.String(flagRequest.Name)),
						interfaces.OwnerID(cCtx.String(flagOwner.Name)),
						cCtx.String(flagReason.Name))
					return signChallenge(cCtx, challenge)
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func signingFlags(extra ...cli.Flag) []cli.Flag {
	return append(extra,
		&cli.StringFlag{Name: "pem-key-file", Usage: "sign with a PEM private key"},
		&cli.StringFlag{Name: "wallet-key-file", Usage: "sign with a hex wallet private key"},
		flagCodeSecret, flagOut)
}

func generateKeypair(keyType, privPath, pubPath string) error {
	var privDER, pubDER []byte
	switch keyType {
	case "ecdsa":
		privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return fmt.Errorf("failed to generate ECDSA key: %w", err)
		}
		if privDER, err = x509.MarshalPKCS8PrivateKey(privateKey); err != nil {
			return err
		}
		if pubDER, err = x509.MarshalPKIXPublicKey(&privateKey.PublicKey); err != nil {
			return err
		}
	case "ed25519":
		publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return fmt.Errorf("failed to generate ed25519 key: %w", err)
		}
		if privDER, err = x509.MarshalPKCS8PrivateKey(privateKey); err != nil {
			return err
		}
		if pubDER, err = x509.MarshalPKIXPublicKey(publicKey); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported key type %q", keyType)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	if err := os.WriteFile(privPath, privPEM, 0600); err != nil {
		return err
	}
	if err := os.WriteFile(pubPath, pubPEM, 0644); err != nil {
		return err
	}
	fmt.Println("wrote", privPath, "and", pubPath)
	return nil
}

// signChallenge produces a proof over the challenge with whichever signer
// material the flags provide: a PEM key, a wallet key, or a code secret.
func signChallenge(cCtx *cli.Context, challenge []byte) error {
	var proof []byte

	switch {
	case cCtx.String("pem-key-file") != "":
		pemBytes, err := os.ReadFile(cCtx.String("pem-key-file"))
		if err != nil {
			return err
		}
		proof, err = signWithPEM(pemBytes, challenge)
		if err != nil {
			return err
		}

	case cCtx.String("wallet-key-file") != "":
		keyHex, err := os.ReadFile(cCtx.String("wallet-key-file"))
		if err != nil {
			return err
		}
		privateKey, err := ethcrypto.HexToECDSA(string(keyHex))
		if err != nil {
			return fmt.Errorf("failed to parse wallet key: %w", err)
		}
		sig, err := signature.Create(challenge, privateKey)
		if err != nil {
			return err
		}
		proof = []byte(sig)

	case cCtx.String(flagCodeSecret.Name) != "":
		secret, err := hex.DecodeString(cCtx.String(flagCodeSecret.Name))
		if err != nil {
			return fmt.Errorf("failed to decode code secret: %w", err)
		}
		proof = []byte(verifier.ComputeCode(secret, challenge))

	default:
		return fmt.Errorf("one of --pem-key-file, --wallet-key-file or --code-secret is required")
	}

	if out := cCtx.String(flagOut.Name); out != "" {
		return os.WriteFile(out, proof, 0600)
	}
	fmt.Printf("%s\n", proof)
	return nil
}

func signWithPEM(pemBytes, challenge []byte) ([]byte, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("failed to decode private key PEM")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		return verifier.SignECDSA(k, challenge)
	case ed25519.PrivateKey:
		return verifier.SignEd25519(k, challenge), nil
	default:
		return nil, fmt.Errorf("unsupported private key type %T", key)
	}
}
