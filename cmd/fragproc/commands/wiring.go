package commands

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	awsclient "github.com/gurre/ddb-pitr/aws"
	"github.com/gurre/ddb-pitr/jobsource"
	"github.com/gurre/ddb-pitr/refdata"
	"github.com/gurre/ddb-pitr/registry"
	"github.com/gurre/ddb-pitr/registry/dynamostore"
	"github.com/gurre/ddb-pitr/registry/memstore"
	"github.com/gurre/ddb-pitr/registry/sqlstore"
	"github.com/gurre/ddb-pitr/runner"
)

// setupLogger builds the process-wide *zap.SugaredLogger, grounded on
// teranos-QNTX's cmd/plugins/code setupLogger: a production JSON
// encoder with an ISO8601 time key, level selected by name.
func setupLogger(level string) (*zap.SugaredLogger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(zapLevel)
	zcfg.EncoderConfig.TimeKey = "time"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger.Sugar(), nil
}

// buildRegistry selects and constructs the registry.Gateway backend
// named by cfg.RegistryBackend, per section 4.7's "a relational or
// key-value store" contract.
func buildRegistry(ctx context.Context, cfg *wiringConfig) (registry.Gateway, func(), error) {
	switch cfg.RegistryBackend {
	case "", "memory":
		return memstore.New(), func() {}, nil

	case "dynamodb":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, nil, fmt.Errorf("loading AWS config: %w", err)
		}
		if cfg.DynamoTableName == "" {
			return nil, nil, fmt.Errorf("dynamo_table_name is required for the dynamodb registry backend")
		}
		client := dynamodb.NewFromConfig(awsCfg)
		return dynamostore.New(client, cfg.DynamoTableName, cfg.DynamoStatusIndexName), func() {}, nil

	case "postgres":
		store, err := sqlstore.Open(ctx, sqlstore.Config{
			ConnectionString: cfg.PostgresConnectionString,
			MigrationsPath:   cfg.PostgresMigrationsPath,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("opening postgres registry: %w", err)
		}
		if err := store.MigrateToLatest(); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("migrating postgres registry: %w", err)
		}
		return store, store.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown registry_backend %q: want memory, dynamodb, or postgres", cfg.RegistryBackend)
	}
}

// buildJobSource builds the StreamSource and DownloadURLProvider shared
// by every job, per section 6's outbound collaborators.
func buildJobSource(ctx context.Context, cfg *wiringConfig) (jobsource.StreamSource, jobsource.DownloadURLProvider, error) {
	stream := jobsource.NewHTTPStreamSource()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, nil, fmt.Errorf("loading AWS config: %w", err)
	}
	presigner := s3.NewPresignClient(s3.NewFromConfig(awsCfg))
	urlProvider := jobsource.NewS3PresignProvider(presigner, 15*time.Minute)

	return stream, urlProvider, nil
}

// buildRefLoader builds the runner.RefDataLoader shared by every job.
func buildRefLoader(cfg *wiringConfig) (runner.RefDataLoader, error) {
	if cfg.ReferenceDataS3URI == "" {
		return emptyRefLoader{}, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	client := awsclient.NewS3Client(s3.NewFromConfig(awsCfg))
	return refdata.NewS3Loader(client, cfg.ReferenceDataS3URI), nil
}

// emptyRefLoader is the fallback RefDataLoader when no reference-data
// location is configured: every category is absent, so the validator
// imposes no category-membership restriction, per section 4.1.
type emptyRefLoader struct{}

func (emptyRefLoader) Load(ctx context.Context) (map[string][]string, error) {
	return map[string][]string{}, nil
}

// buildRunnerOpts assembles the optional runner.Option values wired in
// by configuration, currently just the report archiver. Returns an
// empty slice, never nil, so callers can always spread it into
// scheduler.New.
func buildRunnerOpts(cfg *wiringConfig) ([]runner.Option, error) {
	if cfg.ReportArchiveS3URI == "" {
		return []runner.Option{}, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	client := awsclient.NewS3Client(s3.NewFromConfig(awsCfg))
	uploader := awsclient.NewS3ReportUploader(client)
	return []runner.Option{runner.WithReportUploader(uploader, cfg.ReportArchiveS3URI)}, nil
}
