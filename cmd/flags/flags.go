package flags

import (
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/ipfs-orchestrator/common"
	"github.com/ruteri/ipfs-orchestrator/config"
	"github.com/ruteri/ipfs-orchestrator/httpserver"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context, output io.Writer) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
		Output:  output,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *httpserver.HTTPServerConfig {
	return &httpserver.HTTPServerConfig{
		ListenAddr:               cCtx.String(ListenAddrFlag.Name),
		MetricsAddr:              cCtx.String(MetricsAddrFlag.Name),
		Log:                      logger,
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		MaxBodySize:              cCtx.Int64(MaxBodySizeFlag.Name),
		DrainDuration:            time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             60 * time.Second,
	}
}

// LoadConfig reads the optional config file and applies flags and environment
// variables that were explicitly set on top of it.
func LoadConfig(cCtx *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := cCtx.String(ConfigFileFlag.Name); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	if cCtx.IsSet(IPFSURLFlag.Name) {
		cfg.URL = cCtx.String(IPFSURLFlag.Name)
	}
	if cCtx.IsSet(IPFSReaderURLFlag.Name) {
		cfg.ReaderURL = cCtx.String(IPFSReaderURLFlag.Name)
	}
	if cCtx.IsSet(IPFSAPIKeyFlag.Name) {
		cfg.URLAuth = &config.ExternalAPIAuth{
			APIKey:    cCtx.String(IPFSAPIKeyFlag.Name),
			APISecret: cCtx.String(IPFSAPISecretFlag.Name),
		}
	}
	if cCtx.IsSet(IPFSReaderAPIKeyFlag.Name) {
		cfg.ReaderURLAuth = &config.ExternalAPIAuth{
			APIKey:    cCtx.String(IPFSReaderAPIKeyFlag.Name),
			APISecret: cCtx.String(IPFSReaderAPISecretFlag.Name),
		}
	}
	if cCtx.IsSet(IPFSTimeoutFlag.Name) {
		cfg.Timeout = cCtx.Duration(IPFSTimeoutFlag.Name)
	}

	if cCtx.IsSet(RemotePinningServiceFlag.Name) {
		cfg.RemotePinning = config.RemotePinningConfig{
			Enabled:           true,
			ServiceName:       cCtx.String(RemotePinningServiceFlag.Name),
			ServiceEndpoint:   cCtx.String(RemotePinningEndpointFlag.Name),
			ServiceToken:      cCtx.String(RemotePinningTokenFlag.Name),
			BackgroundPinning: cCtx.Bool(RemotePinningBackgroundFlag.Name),
		}
	}

	if cCtx.IsSet(S3BucketFlag.Name) {
		cfg.S3 = config.S3Config{
			Enabled:     true,
			BucketName:  cCtx.String(S3BucketFlag.Name),
			EndpointURL: cCtx.String(S3EndpointFlag.Name),
			AccessKey:   cCtx.String(S3AccessKeyFlag.Name),
			SecretKey:   cCtx.String(S3SecretKeyFlag.Name),
			Region:      cCtx.String(S3RegionFlag.Name),
			Prefix:      cCtx.String(S3PrefixFlag.Name),
		}
	}
	if cCtx.IsSet(MirrorFlag.Name) {
		cfg.MirrorURIs = append(cfg.MirrorURIs, cCtx.StringSlice(MirrorFlag.Name)...)
	}

	if cCtx.IsSet(WriteRateLimitFlag.Name) {
		cfg.WriteRateLimit = config.RateLimit{
			ReqPerSec: cCtx.Float64(WriteRateLimitFlag.Name),
			Burst:     cCtx.Int(WriteBurstFlag.Name),
		}
	}

	return cfg, nil
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
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

var ConfigFileFlag = &cli.StringFlag{
	Name:    "config",
	EnvVars: []string{"IPFS_CONFIG"},
	Usage:   "YAML configuration file; flags override its values",
}

var IPFSURLFlag = &cli.StringFlag{
	Name:    "ipfs-url",
	Value:   config.DefaultURL,
	EnvVars: []string{"IPFS_URL"},
	Usage:   "write node address, multiaddr (/ip4/127.0.0.1/tcp/5001/http) or URL",
}
var IPFSReaderURLFlag = &cli.StringFlag{
	Name:    "ipfs-reader-url",
	EnvVars: []string{"IPFS_READER_URL"},
	Usage:   "read node address, defaults to the write node",
}
var IPFSAPIKeyFlag = &cli.StringFlag{
	Name:    "ipfs-api-key",
	EnvVars: []string{"IPFS_AUTH_API_KEY"},
	Usage:   "basic auth username for the write node",
}
var IPFSAPISecretFlag = &cli.StringFlag{
	Name:    "ipfs-api-secret",
	EnvVars: []string{"IPFS_AUTH_API_SECRET"},
	Usage:   "basic auth password for the write node",
}
var IPFSReaderAPIKeyFlag = &cli.StringFlag{
	Name:    "ipfs-reader-api-key",
	EnvVars: []string{"IPFS_READER_AUTH_API_KEY"},
	Usage:   "basic auth username for the read node",
}
var IPFSReaderAPISecretFlag = &cli.StringFlag{
	Name:    "ipfs-reader-api-secret",
	EnvVars: []string{"IPFS_READER_AUTH_API_SECRET"},
	Usage:   "basic auth password for the read node",
}
var IPFSTimeoutFlag = &cli.DurationFlag{
	Name:    "ipfs-timeout",
	Value:   config.DefaultTimeout,
	EnvVars: []string{"IPFS_TIMEOUT"},
	Usage:   "timeout of a single node request",
}

var RemotePinningServiceFlag = &cli.StringFlag{
	Name:    "remote-pinning-service",
	EnvVars: []string{"IPFS_REMOTE_PINNING_SERVICE_NAME"},
	Usage:   "enable remote pinning through the named service",
}
var RemotePinningEndpointFlag = &cli.StringFlag{
	Name:    "remote-pinning-endpoint",
	EnvVars: []string{"IPFS_REMOTE_PINNING_SERVICE_ENDPOINT"},
	Usage:   "remote pinning service API endpoint",
}
var RemotePinningTokenFlag = &cli.StringFlag{
	Name:    "remote-pinning-token",
	EnvVars: []string{"IPFS_REMOTE_PINNING_SERVICE_TOKEN"},
	Usage:   "remote pinning service access token",
}
var RemotePinningBackgroundFlag = &cli.BoolFlag{
	Name:    "remote-pinning-background",
	EnvVars: []string{"IPFS_REMOTE_PINNING_BACKGROUND"},
	Usage:   "return from remote pin requests without waiting for the pin to complete",
}

var S3BucketFlag = &cli.StringFlag{
	Name:    "s3-bucket",
	EnvVars: []string{"S3_BUCKET_NAME"},
	Usage:   "enable the S3 mirror with this bucket",
}
var S3EndpointFlag = &cli.StringFlag{
	Name:    "s3-endpoint",
	EnvVars: []string{"S3_ENDPOINT_URL"},
	Usage:   "S3-compatible endpoint URL",
}
var S3AccessKeyFlag = &cli.StringFlag{
	Name:    "s3-access-key",
	EnvVars: []string{"S3_ACCESS_KEY"},
	Usage:   "S3 access key",
}
var S3SecretKeyFlag = &cli.StringFlag{
	Name:    "s3-secret-key",
	EnvVars: []string{"S3_SECRET_KEY"},
	Usage:   "S3 secret key",
}
var S3RegionFlag = &cli.StringFlag{
	Name:    "s3-region",
	Value:   config.DefaultS3Region,
	EnvVars: []string{"S3_REGION"},
	Usage:   "S3 region",
}
var S3PrefixFlag = &cli.StringFlag{
	Name:    "s3-prefix",
	EnvVars: []string{"S3_PREFIX"},
	Usage:   "key prefix for mirrored objects",
}
var MirrorFlag = &cli.StringSliceFlag{
	Name:    "mirror",
	EnvVars: []string{"MIRROR_URIS"},
	Usage:   "additional mirror, s3://[KEY:SECRET@]bucket[/prefix][?region=..&endpoint=..]; repeatable",
}

var WriteRateLimitFlag = &cli.Float64Flag{
	Name:    "write-rate-limit",
	EnvVars: []string{"IPFS_WRITE_RATE_LIMIT"},
	Usage:   "maximum add requests per second, 0 disables",
}
var WriteBurstFlag = &cli.IntFlag{
	Name:    "write-burst",
	Value:   1,
	EnvVars: []string{"IPFS_WRITE_BURST"},
	Usage:   "add requests allowed above the rate limit at once",
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}
var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait before shutting down after a termination signal",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}
var MaxBodySizeFlag = &cli.Int64Flag{
	Name:  "max-body-size",
	Value: httpserver.DefaultMaxBodySize,
	Usage: "maximum upload size in bytes",
}

var LoggingFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
}

var StoreFlags = []cli.Flag{
	ConfigFileFlag,
	IPFSURLFlag,
	IPFSReaderURLFlag,
	IPFSAPIKeyFlag,
	IPFSAPISecretFlag,
	IPFSReaderAPIKeyFlag,
	IPFSReaderAPISecretFlag,
	IPFSTimeoutFlag,
	RemotePinningServiceFlag,
	RemotePinningEndpointFlag,
	RemotePinningTokenFlag,
	RemotePinningBackgroundFlag,
	S3BucketFlag,
	S3EndpointFlag,
	S3AccessKeyFlag,
	S3SecretKeyFlag,
	S3RegionFlag,
	S3PrefixFlag,
	MirrorFlag,
	WriteRateLimitFlag,
	WriteBurstFlag,
}

var ServerFlags = []cli.Flag{
	ListenAddrFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
	MaxBodySizeFlag,
}
