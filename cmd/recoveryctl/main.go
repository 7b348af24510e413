package main

import (
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/keyhaven/guardian-recovery-backend/activity"
	"github.com/keyhaven/guardian-recovery-backend/cmd/flags"
	"github.com/keyhaven/guardian-recovery-backend/interfaces"
	"github.com/keyhaven/guardian-recovery-backend/notify"
	"github.com/keyhaven/guardian-recovery-backend/recovery"
	"github.com/keyhaven/guardian-recovery-backend/registry"
	"github.com/keyhaven/guardian-recovery-backend/storage"
	"github.com/keyhaven/guardian-recovery-backend/verifier"
)

var flagOwner = &cli.StringFlag{
	Name:     "owner",
	Usage:    "owner id",
	Required: true,
}
var flagGuardian = &cli.StringFlag{
	Name:     "guardian",
	Usage:    "guardian id",
	Required: true,
}
var flagRequest = &cli.StringFlag{
	Name:     "request",
	Usage:    "recovery request id",
	Required: true,
}
var flagProofFile = &cli.StringFlag{
	Name:     "proof-file",
	Usage:    "path to the signature or one-time code proving the action",
	Required: true,
}
var flagContact = &cli.StringFlag{
	Name:     "contact",
	Usage:    "owner notification identity, typically an email address",
	Required: true,
}
var flagSecretFile = &cli.StringFlag{
	Name:     "secret-file",
	Usage:    "path to the secret to protect",
	Required: true,
}
var flagOwnerWallet = &cli.StringFlag{
	Name:  "owner-wallet",
	Usage: "owner wallet address for dispute signatures, 0x-prefixed hex",
}
var flagOwnerPubkey = &cli.StringFlag{
	Name:  "owner-pubkey-file",
	Usage: "path to the owner's PEM public key for dispute signatures",
}
var flagThreshold = &cli.IntFlag{
	Name:  "threshold",
	Value: 2,
	Usage: "fragments required to reconstruct",
}
var flagTotal = &cli.IntFlag{
	Name:  "total-guardians",
	Value: 3,
	Usage: "fragments to distribute",
}
var flagRecoveryDelay = &cli.DurationFlag{
	Name:  "recovery-delay",
	Value: 48 * time.Hour,
	Usage: "mandatory wait between initiation and completion",
}
var flagInactivity = &cli.DurationFlag{
	Name:  "inactivity-period",
	Value: 30 * 24 * time.Hour,
	Usage: "owner silence required before guardians may initiate",
}
var flagValidity = &cli.DurationFlag{
	Name:  "request-validity",
	Value: 7 * 24 * time.Hour,
	Usage: "recovery request validity window",
}
var flagIdentity = &cli.StringFlag{
	Name:     "identity",
	Usage:    "guardian contact identity, typically an email address",
	Required: true,
}
var flagDisplayName = &cli.StringFlag{
	Name:  "name",
	Usage: "guardian display name",
}
var flagWallet = &cli.StringFlag{
	Name:  "wallet",
	Usage: "guardian wallet address, 0x-prefixed hex",
}
var flagPubkeyFile = &cli.StringFlag{
	Name:  "pubkey-file",
	Usage: "path to the guardian's PEM public key",
}
var flagReason = &cli.StringFlag{
	Name:     "reason",
	Usage:    "dispute reason, bound into the owner's signature",
	Required: true,
}
var flagOutFile = &cli.StringFlag{
	Name:  "out-file",
	Usage: "write the recovered secret to this path instead of stdout",
}

// env bundles the wired components behind one store handle.
type env struct {
	log     *slog.Logger
	store   *storage.SQLiteStore
	reg     *registry.Registry
	coord   *recovery.Coordinator
	monitor *activity.Monitor
	sweeper *recovery.Sweeper
}

func setup(cCtx *cli.Context) (*env, error) {
	logger := flags.SetupLogger(cCtx)

	store, err := storage.NewSQLiteStore(cCtx.String(flags.DatabaseFlag.Name))
	if err != nil {
		return nil, err
	}

	factory := storage.NewFactory(logger)
	var fragmentLocations []interfaces.StorageBackendLocation
	for _, uri := range cCtx.StringSlice(flags.FragmentStoreFlag.Name) {
		location, err := interfaces.NewStorageBackendLocation(uri)
		if err != nil {
			return nil, fmt.Errorf("fragment store %q: %w", uri, err)
		}
		fragmentLocations = append(fragmentLocations, location)
	}
	fragments, err := factory.CreateMultiBackend(fragmentLocations)
	if err != nil {
		return nil, err
	}

	archiveLocation, err := interfaces.NewStorageBackendLocation(cCtx.String(flags.ArchiveStoreFlag.Name))
	if err != nil {
		return nil, fmt.Errorf("archive store: %w", err)
	}
	archive, err := factory.StorageBackendFor(archiveLocation)
	if err != nil {
		return nil, err
	}

	var notifier interfaces.Notifier = notify.NewLogNotifier(logger)
	if relay := cCtx.String(flags.SMTPRelayFlag.Name); relay != "" {
		emailNotifier, err := notify.NewEmailNotifier(&notify.EmailConfig{
			RelayAddr: relay,
			From:      cCtx.String(flags.SMTPFromFlag.Name),
			Log:       logger,
		})
		if err != nil {
			return nil, err
		}
		notifier = notify.NewMultiNotifier(logger, notifier, emailNotifier)
	}

	dispatch := verifier.NewDispatch()
	reg := registry.NewRegistry(&registry.Config{
		Store:     store,
		Fragments: fragments,
		Verifier:  dispatch,
		Notifier:  notifier,
		Log:       logger,
	})

	monitor := activity.NewMonitor(&activity.Config{Store: store, Log: logger})

	return &env{
		log:   logger,
		store: store,
		reg:   reg,
		coord: recovery.NewCoordinator(&recovery.Config{
			Store:    store,
			Secrets:  reg,
			Verifier: dispatch,
			Notifier: notifier,
			Activity: monitor,
			Log:      logger,
		}),
		monitor: monitor,
		sweeper: recovery.NewSweeper(&recovery.SweeperConfig{
			Store:    store,
			Archive:  archive,
			Notifier: notifier,
			Log:      logger,
			Interval: cCtx.Duration(flags.SweepIntervalFlag.Name),
		}),
	}, nil
}

func (e *env) close() {
	if err := e.store.Close(); err != nil {
		e.log.Warn("failed to close store", "err", err)
	}
}

// verificationKey assembles a key from the wallet / pubkey-file flag pair,
// falling back to a generated one-time code secret printed to the caller.
func verificationKey(cCtx *cli.Context, walletFlag, pubkeyFlag string) (interfaces.VerificationKey, string, error) {
	if wallet := cCtx.String(walletFlag); wallet != "" {
		addr, err := interfaces.NewWalletAddressFromHex(wallet)
		if err != nil {
			return interfaces.VerificationKey{}, "", err
		}
		return interfaces.VerificationKey{Address: addr}, "", nil
	}
	if path := cCtx.String(pubkeyFlag); path != "" {
		pemBytes, err := os.ReadFile(path)
		if err != nil {
			return interfaces.VerificationKey{}, "", err
		}
		return interfaces.VerificationKey{PublicKey: pemBytes}, "", nil
	}

	secret, err := verifier.GenerateCodeSecret()
	if err != nil {
		return interfaces.VerificationKey{}, "", err
	}
	return interfaces.VerificationKey{Secret: secret}, fmt.Sprintf("%x", secret), nil
}

func main() {
	app := &cli.App{
		Name:  "recoveryctl",
		Usage: "manage guardian setups and recovery requests",
		Commands: []*cli.Command{
			onboardCommand(),
			checkInCommand(),
			statusCommand(),
			inviteCommand(),
			acceptCommand(),
			declineCommand(),
			revokeCommand(),
			rekeyCommand(),
			initiateCommand(),
			approveCommand(),
			disputeCommand(),
			completeCommand(),
			cancelCommand(),
			sweepCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func onboardCommand() *cli.Command {
	return &cli.Command{
		Name:  "onboard",
		Usage: "create a guardian setup and seal the protected secret",
		Flags: append([]cli.Flag{
			flagSecretFile, flagContact, flagOwnerWallet, flagOwnerPubkey,
			flagThreshold, flagTotal, flagRecoveryDelay, flagInactivity, flagValidity,
			flags.LogServiceFlagFn("recoveryctl"),
		}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			e, err := setup(cCtx)
			if err != nil {
				return err
			}
			defer e.close()

			secret, err := os.ReadFile(cCtx.String(flagSecretFile.Name))
			if err != nil {
				return err
			}

			ownerKey, codeSecret, err := verificationKey(cCtx, flagOwnerWallet.Name, flagOwnerPubkey.Name)
			if err != nil {
				return err
			}

			owner := interfaces.NewOwnerID()
			setupRecord, err := e.reg.Onboard(cCtx.Context, owner, secret, registry.SetupParams{
				Contact:          cCtx.String(flagContact.Name),
				OwnerKey:         ownerKey,
				Threshold:        cCtx.Int(flagThreshold.Name),
				TotalGuardians:   cCtx.Int(flagTotal.Name),
				RecoveryDelay:    cCtx.Duration(flagRecoveryDelay.Name),
				InactivityPeriod: cCtx.Duration(flagInactivity.Name),
				RequestValidity:  cCtx.Duration(flagValidity.Name),
			})
			if err != nil {
				return err
			}

			fmt.Println("owner id:", setupRecord.Owner)
			if codeSecret != "" {
				fmt.Println("owner dispute code secret (store safely):", codeSecret)
			}
			return nil
		},
	}
}

func checkInCommand() *cli.Command {
	return &cli.Command{
		Name:  "check-in",
		Usage: "record owner proof of life",
		Flags: append([]cli.Flag{flagOwner, flags.LogServiceFlagFn("recoveryctl")}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			e, err := setup(cCtx)
			if err != nil {
				return err
			}
			defer e.close()

			at, err := e.monitor.CheckIn(cCtx.Context, interfaces.OwnerID(cCtx.String(flagOwner.Name)))
			if err != nil {
				return err
			}
			fmt.Println("checked in at", at.Format(time.RFC3339))
			return nil
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "show an owner's setup, guardians, and recovery requests",
		Flags: append([]cli.Flag{flagOwner, flags.LogServiceFlagFn("recoveryctl")}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			e, err := setup(cCtx)
			if err != nil {
				return err
			}
			defer e.close()

			ctx := cCtx.Context
			owner := interfaces.OwnerID(cCtx.String(flagOwner.Name))
			setupRecord, err := e.store.SetupByOwner(ctx, owner)
			if err != nil {
				return err
			}
			guardians, err := e.store.GuardiansByOwner(ctx, owner)
			if err != nil {
				return err
			}
			requests, err := e.store.RequestsByOwner(ctx, owner)
			if err != nil {
				return err
			}
			days, err := e.monitor.DaysSinceCheckIn(ctx, owner)
			if err != nil {
				return err
			}

			status := struct {
				Owner           interfaces.OwnerID `json:"owner"`
				Threshold       int                `json:"threshold"`
				TotalGuardians  int                `json:"total_guardians"`
				SplitDone       bool               `json:"split_done"`
				KeyVersion      uint64             `json:"key_version"`
				DaysSinceActive int                `json:"days_since_check_in"`
				Guardians       []guardianStatus   `json:"guardians"`
				Requests        []requestStatus    `json:"requests"`
			}{
				Owner:           owner,
				Threshold:       setupRecord.Threshold,
				TotalGuardians:  setupRecord.TotalGuardians,
				SplitDone:       setupRecord.SplitDone,
				KeyVersion:      setupRecord.KeyVersion,
				DaysSinceActive: days,
			}
			for _, g := range guardians {
				status.Guardians = append(status.Guardians, guardianStatus{
					ID: g.ID, Identity: g.Identity, Status: g.Status.String(), HasFragment: g.Fragment != nil,
				})
			}
			for _, r := range requests {
				status.Requests = append(status.Requests, requestStatus{
					ID: r.ID, Status: r.Status.String(),
					Approvals: len(r.Approvals), Required: r.RequiredApprovals,
					ExpiresAt: r.ExpiresAt,
				})
			}

			out, err := json.MarshalIndent(status, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

type guardianStatus struct {
	ID          interfaces.GuardianID `json:"id"`
	Identity    string                `json:"identity"`
	Status      string                `json:"status"`
	HasFragment bool                  `json:"has_fragment"`
}

type requestStatus struct {
	ID        interfaces.RequestID `json:"id"`
	Status    string               `json:"status"`
	Approvals int                  `json:"approvals"`
	Required  int                  `json:"required"`
	ExpiresAt time.Time            `json:"expires_at"`
}

func inviteCommand() *cli.Command {
	return &cli.Command{
		Name:  "invite",
		Usage: "invite a guardian",
		Flags: append([]cli.Flag{
			flagOwner, flagIdentity, flagDisplayName, flagWallet, flagPubkeyFile,
			flags.LogServiceFlagFn("recoveryctl"),
		}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			e, err := setup(cCtx)
			if err != nil {
				return err
			}
			defer e.close()

			key, codeSecret, err := verificationKey(cCtx, flagWallet.Name, flagPubkeyFile.Name)
			if err != nil {
				return err
			}

			guardian, err := e.reg.Invite(cCtx.Context,
				interfaces.OwnerID(cCtx.String(flagOwner.Name)),
				cCtx.String(flagIdentity.Name),
				cCtx.String(flagDisplayName.Name),
				key)
			if err != nil {
				return err
			}

			fmt.Println("guardian id:", guardian.ID)
			if codeSecret != "" {
				fmt.Println("guardian code secret (deliver out of band):", codeSecret)
			}
			return nil
		},
	}
}

func acceptCommand() *cli.Command {
	return &cli.Command{
		Name:  "accept",
		Usage: "accept a guardian invitation with a signed proof",
		Flags: append([]cli.Flag{flagGuardian, flagProofFile, flags.LogServiceFlagFn("recoveryctl")}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			e, err := setup(cCtx)
			if err != nil {
				return err
			}
			defer e.close()

			proof, err := os.ReadFile(cCtx.String(flagProofFile.Name))
			if err != nil {
				return err
			}
			guardian, err := e.reg.Accept(cCtx.Context,
				interfaces.GuardianID(cCtx.String(flagGuardian.Name)), proof)
			if err != nil {
				return err
			}
			fmt.Println("guardian", guardian.ID, "is now", guardian.Status)
			if guardian.Fragment != nil {
				fmt.Println("fragment assigned:", guardian.Fragment.VaultID)
			}
			return nil
		},
	}
}

func declineCommand() *cli.Command {
	return &cli.Command{
		Name:  "decline",
		Usage: "decline a guardian invitation",
		Flags: append([]cli.Flag{flagGuardian, flags.LogServiceFlagFn("recoveryctl")}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			e, err := setup(cCtx)
			if err != nil {
				return err
			}
			defer e.close()
			return e.reg.Decline(cCtx.Context, interfaces.GuardianID(cCtx.String(flagGuardian.Name)))
		},
	}
}

func revokeCommand() *cli.Command {
	return &cli.Command{
		Name:  "revoke",
		Usage: "revoke a guardian; re-splits the secret among the remaining guardians",
		Flags: append([]cli.Flag{flagGuardian, flags.LogServiceFlagFn("recoveryctl")}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			e, err := setup(cCtx)
			if err != nil {
				return err
			}
			defer e.close()
			return e.reg.Revoke(cCtx.Context, interfaces.GuardianID(cCtx.String(flagGuardian.Name)))
		},
	}
}

func rekeyCommand() *cli.Command {
	return &cli.Command{
		Name:  "rekey",
		Usage: "change the reconstruction threshold and redistribute fragments",
		Flags: append([]cli.Flag{flagOwner, flagThreshold, flags.LogServiceFlagFn("recoveryctl")}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			e, err := setup(cCtx)
			if err != nil {
				return err
			}
			defer e.close()
			return e.reg.Rekey(cCtx.Context,
				interfaces.OwnerID(cCtx.String(flagOwner.Name)),
				cCtx.Int(flagThreshold.Name))
		},
	}
}

func initiateCommand() *cli.Command {
	return &cli.Command{
		Name:  "initiate",
		Usage: "open a recovery request as a guardian",
		Flags: append([]cli.Flag{flagOwner, flagGuardian, flags.LogServiceFlagFn("recoveryctl")}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			e, err := setup(cCtx)
			if err != nil {
				return err
			}
			defer e.close()

			req, err := e.coord.Create(cCtx.Context,
				interfaces.OwnerID(cCtx.String(flagOwner.Name)),
				interfaces.GuardianID(cCtx.String(flagGuardian.Name)))
			if err != nil {
				return err
			}
			fmt.Println("request id:", req.ID)
			fmt.Println("expires at:", req.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
}

func approveCommand() *cli.Command {
	return &cli.Command{
		Name:  "approve",
		Usage: "approve a recovery request with a signed proof",
		Flags: append([]cli.Flag{flagRequest, flagGuardian, flagProofFile, flags.LogServiceFlagFn("recoveryctl")}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			e, err := setup(cCtx)
			if err != nil {
				return err
			}
			defer e.close()

			proof, err := os.ReadFile(cCtx.String(flagProofFile.Name))
			if err != nil {
				return err
			}
			return e.coord.Approve(cCtx.Context,
				interfaces.RequestID(cCtx.String(flagRequest.Name)),
				interfaces.GuardianID(cCtx.String(flagGuardian.Name)),
				proof)
		},
	}
}

func disputeCommand() *cli.Command {
	return &cli.Command{
		Name:  "dispute",
		Usage: "dispute a recovery request as the owner",
		Flags: append([]cli.Flag{flagRequest, flagReason, flagProofFile, flags.LogServiceFlagFn("recoveryctl")}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			e, err := setup(cCtx)
			if err != nil {
				return err
			}
			defer e.close()

			proof, err := os.ReadFile(cCtx.String(flagProofFile.Name))
			if err != nil {
				return err
			}
			return e.coord.Dispute(cCtx.Context,
				interfaces.RequestID(cCtx.String(flagRequest.Name)),
				cCtx.String(flagReason.Name),
				proof)
		},
	}
}

func completeCommand() *cli.Command {
	return &cli.Command{
		Name:  "complete",
		Usage: "complete a recovery request and release the secret",
		Flags: append([]cli.Flag{flagRequest, flagOutFile, flags.LogServiceFlagFn("recoveryctl")}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			e, err := setup(cCtx)
			if err != nil {
				return err
			}
			defer e.close()

			secret, err := e.coord.Complete(cCtx.Context,
				interfaces.RequestID(cCtx.String(flagRequest.Name)))
			if err != nil {
				return err
			}
			if out := cCtx.String(flagOutFile.Name); out != "" {
				return os.WriteFile(out, secret, 0600)
			}
			fmt.Printf("%s\n", secret)
			return nil
		},
	}
}

func cancelCommand() *cli.Command {
	return &cli.Command{
		Name:  "cancel",
		Usage: "withdraw a recovery request as its initiator",
		Flags: append([]cli.Flag{flagRequest, flagGuardian, flags.LogServiceFlagFn("recoveryctl")}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			e, err := setup(cCtx)
			if err != nil {
				return err
			}
			defer e.close()
			return e.coord.Cancel(cCtx.Context,
				interfaces.RequestID(cCtx.String(flagRequest.Name)),
				interfaces.GuardianID(cCtx.String(flagGuardian.Name)))
		},
	}
}

func sweepCommand() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "run the housekeeping loop: expiry, archival, check-in reminders",
		Flags: append([]cli.Flag{
			flags.SweepIntervalFlag, flags.SMTPRelayFlag, flags.SMTPFromFlag,
			flags.LogServiceFlagFn("recovery-sweeper"),
			&cli.BoolFlag{Name: "once", Usage: "run a single pass and exit"},
		}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			e, err := setup(cCtx)
			if err != nil {
				return err
			}
			defer e.close()

			if cCtx.Bool("once") {
				e.sweeper.Sweep(cCtx.Context)
				return nil
			}

			ctx, cancel := signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
			defer cancel()
			e.sweeper.Start(ctx)
			e.log.Info("sweeper running", "interval", cCtx.Duration(flags.SweepIntervalFlag.Name).String())
			<-ctx.Done()
			e.sweeper.Stop()
			return nil
		},
	}
}
