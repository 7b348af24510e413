package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/keyhaven/guardian-recovery-backend/common"
)

// SetupLogger builds the service logger from the common logging flags.
func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJSONFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUIDFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

var DatabaseFlag = &cli.StringFlag{
	Name:  "db",
	Value: "guardian-recovery.db",
	Usage: "path to the sqlite database",
}

var FragmentStoreFlag = &cli.StringSliceFlag{
	Name:  "fragment-store",
	Value: cli.NewStringSlice("memory://fragments"),
	Usage: "fragment storage backend URIs (file://, s3://, ipfs://, vault://, memory://); multiple form a replicated group",
}

var ArchiveStoreFlag = &cli.StringFlag{
	Name:  "archive-store",
	Value: "memory://archive",
	Usage: "archive storage backend URI for terminal recovery requests",
}

var SweepIntervalFlag = &cli.DurationFlag{
	Name:  "sweep-interval",
	Value: time.Hour,
	Usage: "interval between housekeeping sweeps",
}

var SMTPRelayFlag = &cli.StringFlag{
	Name:  "smtp-relay",
	Usage: "SMTP relay address for email notifications; log-only when unset",
}

var SMTPFromFlag = &cli.StringFlag{
	Name:  "smtp-from",
	Value: "no-reply@keyhaven.example",
	Usage: "From address for email notifications",
}

var LogJSONFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUIDFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

// CommonFlags are shared by every command.
var CommonFlags = []cli.Flag{
	LogJSONFlag,
	LogDebugFlag,
	LogUIDFlag,
	DatabaseFlag,
	FragmentStoreFlag,
	ArchiveStoreFlag,
}
