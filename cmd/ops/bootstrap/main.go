// Package main implements the bootstrap CLI tool for a Sunspot deployment.
//
// The tool walks an operator through populating AWS SSM Parameter Store with
// the connection secrets the Lambdas resolve at cold start through
// NAME_SSM_PARAM variables (see internal/config).
//
// Usage:
//
//	go run ./cmd/ops/bootstrap --env=dev
//	go run ./cmd/ops/bootstrap --env=dev --export-env
//	go run ./cmd/ops/bootstrap --env=prod --profile=sunspot-prod --region=eu-north-1
//
// The tool:
//  1. Verifies the active AWS identity with STS GetCallerIdentity.
//  2. Requires an explicit "yes" before touching prod.
//  3. Prompts for each parameter, validates it against the live service and
//     writes it to /{env}/sunspot/{category}/{key}.
//  4. With --export-env, reads the parameters back into a .env file for
//     local development.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

var validEnvironments = map[string]bool{
	"dev":     true,
	"staging": true,
	"prod":    true,
}

// BootstrapContext holds the session established during initialization.
type BootstrapContext struct {
	Environment string
	AWSProfile  string
	AWSRegion   string
	AccountID   string
	CallerARN   string
	AWSConfig   aws.Config
	Logger      *slog.Logger
}

func main() {
	envFlag := flag.String("env", "", "Target environment (dev/staging/prod) [required]")
	profileFlag := flag.String("profile", "", "AWS CLI profile (default: uses default credential chain)")
	regionFlag := flag.String("region", "eu-north-1", "AWS region")
	exportEnvFlag := flag.Bool("export-env", false, "After bootstrap, export SSM parameters to a .env file for local development")
	exportEnvPath := flag.String("export-env-path", ".env", "Path for the exported .env file")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Sunspot Bootstrap Tool\n\n")
		fmt.Fprintf(os.Stderr, "Populates the AWS SSM parameters required before the first deployment.\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  bootstrap --env=dev [--profile=NAME] [--region=REGION] [--export-env]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := validateEnvironment(*envFlag); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n\n", err)
		flag.Usage()
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bctx, err := initializeSession(ctx, *envFlag, *profileFlag, *regionFlag, logger)
	if err != nil {
		logger.Error("initialization failed", "error", err)
		os.Exit(1)
	}

	if bctx.Environment == "prod" && !confirmProduction(bctx, os.Stdin, os.Stderr) {
		fmt.Fprintln(os.Stderr, "Aborted. No changes were made.")
		os.Exit(0)
	}

	printBanner(bctx, os.Stderr)

	runner := NewBootstrapRunner(bctx)
	if err := runner.Run(ctx); err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}

	logger.Info("bootstrap completed successfully",
		"env", bctx.Environment,
		"account", bctx.AccountID,
		"region", bctx.AWSRegion,
	)

	if *exportEnvFlag {
		written, err := ExportEnvFile(ctx, ExportEnvConfig{
			OutputPath:           *exportEnvPath,
			SSM:                  runner.SSM,
			Inventory:            runner.inventory(),
			IncludeLocalDefaults: true,
		})
		if err != nil {
			logger.Error("failed to export .env file", "error", err)
			os.Exit(1)
		}
		logger.Info(".env file exported", "path", *exportEnvPath, "variables", written)
	}
}

func validateEnvironment(env string) error {
	if env == "" {
		return fmt.Errorf("--env is required")
	}
	if !validEnvironments[env] {
		return fmt.Errorf("invalid environment %q (must be dev, staging, or prod)", env)
	}
	return nil
}

// initializeSession loads the AWS SDK config and confirms the caller
// identity before anything is written.
func initializeSession(ctx context.Context, env, profile, region string, logger *slog.Logger) (*BootstrapContext, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	identityCtx, identityCancel := context.WithTimeout(ctx, 10*time.Second)
	defer identityCancel()

	identity, err := sts.NewFromConfig(cfg).GetCallerIdentity(identityCtx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("verifying AWS identity (STS GetCallerIdentity): %w\n"+
			"  Check that your AWS credentials are configured correctly.\n"+
			"  Profile: %q, Region: %q", err, profile, region)
	}

	bctx := &BootstrapContext{
		Environment: env,
		AWSProfile:  profile,
		AWSRegion:   region,
		AccountID:   aws.ToString(identity.Account),
		CallerARN:   aws.ToString(identity.Arn),
		AWSConfig:   cfg,
		Logger:      logger,
	}
	logger.Info("AWS identity verified",
		"account_id", bctx.AccountID,
		"arn", bctx.CallerARN,
		"region", region,
	)
	return bctx, nil
}

// confirmProduction returns true only if the operator types "yes".
func confirmProduction(bctx *BootstrapContext, in io.Reader, out io.Writer) bool {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "============================================================")
	fmt.Fprintln(out, "  WARNING: You are targeting the PRODUCTION environment")
	fmt.Fprintln(out, "============================================================")
	fmt.Fprintf(out, "  Account: %s\n", bctx.AccountID)
	fmt.Fprintf(out, "  Region:  %s\n", bctx.AWSRegion)
	fmt.Fprintf(out, "  ARN:     %s\n", bctx.CallerARN)
	fmt.Fprintln(out, "============================================================")
	fmt.Fprint(out, "\nType 'yes' to continue: ")

	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(scanner.Text()), "yes")
}

func printBanner(bctx *BootstrapContext, out io.Writer) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "------------------------------------------------------------")
	fmt.Fprintln(out, "  Sunspot Bootstrap")
	fmt.Fprintln(out, "------------------------------------------------------------")
	fmt.Fprintf(out, "  Environment:  %s\n", bctx.Environment)
	fmt.Fprintf(out, "  AWS Account:  %s\n", bctx.AccountID)
	fmt.Fprintf(out, "  AWS Region:   %s\n", bctx.AWSRegion)
	fmt.Fprintf(out, "  Identity:     %s\n", bctx.CallerARN)
	if bctx.AWSProfile != "" {
		fmt.Fprintf(out, "  Profile:      %s\n", bctx.AWSProfile)
	}
	fmt.Fprintf(out, "  SSM Prefix:   /%s/%s/\n", bctx.Environment, ssmNamespace)
	fmt.Fprintln(out, "------------------------------------------------------------")
	fmt.Fprintln(out)
}
