package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/keyshard/keyshard/cmd/flags"
	"github.com/keyshard/keyshard/corekit"
	"github.com/keyshard/keyshard/idp"
	"github.com/keyshard/keyshard/interfaces"
	"github.com/keyshard/keyshard/metadataservice"
	"github.com/keyshard/keyshard/sharestore"
	"github.com/keyshard/keyshard/storage"
)

var globalFlags = append([]cli.Flag{
	flags.StorageURIFlag,
	&cli.StringFlag{
		Name:  "metadata-url",
		Value: "http://127.0.0.1:8080",
		Usage: "base URL of the metadata service",
	},
	&cli.StringFlag{
		Name:     "verifier",
		Required: true,
		Usage:    "verifier name the ID token was issued for",
	},
	&cli.StringFlag{
		Name:     "verifier-id",
		Required: true,
		Usage:    "user identifier within the verifier, e.g. the token's sub claim",
	},
	&cli.StringFlag{
		Name:     "id-token",
		Required: true,
		Usage:    "ID token to log in with",
	},
	&cli.StringFlag{
		Name:     "verifier-secret",
		Required: true,
		Usage:    "HMAC secret the verifier signs tokens with",
	},
	&cli.StringFlag{
		Name:  "factor-key",
		Usage: "hex factor key to reconstruct with when no cached factor is available",
	},
	&cli.BoolFlag{
		Name:  "manual-key-setup",
		Value: false,
		Usage: "do not auto-provision a signing key for fresh accounts",
	},
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:  "keyshard",
		Usage: "Exercise the factor-share lifecycle against a metadata service (in-process share store, development only)",
		Flags: globalFlags,
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "log in and print the key details",
				Action: func(cCtx *cli.Context) error {
					return withKit(cCtx, func(ctx context.Context, kit *corekit.CoreKit) error {
						return printKeyDetails(kit)
					})
				},
			},
			{
				Name:  "create-factor",
				Usage: "create a new recovery factor and print its key",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "description",
						Value: string(interfaces.ShareDescriptionSeedPhrase),
						Usage: "factor description stored in metadata",
					},
				},
				Action: func(cCtx *cli.Context) error {
					return withKit(cCtx, func(ctx context.Context, kit *corekit.CoreKit) error {
						factorKey, err := kit.CreateFactor(ctx, corekit.CreateFactorParams{
							ShareType:        interfaces.ShareTypeRecovery,
							ShareDescription: interfaces.ShareDescription(cCtx.String("description")),
						})
						if err != nil {
							return err
						}
						fmt.Println(factorKey.String())
						return nil
					})
				},
			},
			{
				Name:  "delete-factor",
				Usage: "delete a factor by its public key",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "factor-pub",
						Required: true,
						Usage:    "hex compressed public key of the factor to delete",
					},
				},
				Action: func(cCtx *cli.Context) error {
					return withKit(cCtx, func(ctx context.Context, kit *corekit.CoreKit) error {
						factorPub, err := interfaces.NewFactorPubkeyFromHex(cCtx.String("factor-pub"))
						if err != nil {
							return err
						}
						return kit.DeleteFactor(ctx, factorPub)
					})
				},
			},
			{
				Name:  "export-key",
				Usage: "reconstruct and print the full signing key (unsafe)",
				Action: func(cCtx *cli.Context) error {
					return withKit(cCtx, func(ctx context.Context, kit *corekit.CoreKit) error {
						exported, err := kit.UnsafeExportTssKey(ctx)
						if err != nil {
							return err
						}
						fmt.Println(exported)
						return nil
					})
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// withKit assembles a CoreKit from the global flags, drives it to
// LOGGED_IN, and hands it to the action.
func withKit(cCtx *cli.Context, action func(ctx context.Context, kit *corekit.CoreKit) error) error {
	ctx := cCtx.Context
	logger := flags.SetupLogger(cCtx)

	store, err := storage.NewFactory(logger).KVStoreFor(cCtx.String(flags.StorageURIFlag.Name))
	if err != nil {
		return fmt.Errorf("failed to create storage backend: %w", err)
	}

	verifier := cCtx.String("verifier")
	identity := idp.NewJWTProvider(map[string]idp.VerifierKey{
		verifier: {Key: []byte(cCtx.String("verifier-secret")), Methods: []string{"HS256"}},
	}, logger)

	kit, err := corekit.New(corekit.Options{
		ManualKeySetup: cCtx.Bool("manual-key-setup"),
		Log:            logger,
	}, store, metadataservice.NewClient(cCtx.String("metadata-url")), sharestore.NewSimpleShareStore(logger), identity)
	if err != nil {
		return err
	}

	if err := kit.Init(ctx); err != nil {
		return err
	}
	if err := kit.LoginWithJWT(ctx, interfaces.JWTLoginParams{
		Verifier:   verifier,
		VerifierID: cCtx.String("verifier-id"),
		IDToken:    cCtx.String("id-token"),
	}); err != nil {
		return err
	}

	if kit.Status() == interfaces.StatusRequiredShare {
		factorKeyHex := cCtx.String("factor-key")
		if factorKeyHex == "" {
			return fmt.Errorf("a factor share is required; pass --factor-key")
		}
		factorKey, err := interfaces.NewFactorKeyFromHex(factorKeyHex)
		if err != nil {
			return err
		}
		if err := kit.InputFactorKey(ctx, factorKey); err != nil {
			return err
		}
	}

	return action(ctx, kit)
}

func printKeyDetails(kit *corekit.CoreKit) error {
	details, err := kit.GetKeyDetails()
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(details, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
