package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/joho/godotenv"
)

// localDefaults are added to exported files so the result runs as-is with
// APP_ENV=local (no SSM lookups at startup).
var localDefaults = map[string]string{
	"APP_ENV":         "local",
	"LOG_LEVEL":       "debug",
	"METRICS_BACKEND": "none",
}

// ExportEnvConfig controls ExportEnvFile.
type ExportEnvConfig struct {
	OutputPath           string
	SSM                  *SSMManager
	Inventory            []BootstrapStep
	IncludeLocalDefaults bool
}

// ExportEnvFile reads every inventory parameter back from SSM and writes
// them as a .env file readable by internal/config. Parameters that were
// never set are left out. It returns the number of variables written.
func ExportEnvFile(ctx context.Context, cfg ExportEnvConfig) (int, error) {
	env := make(map[string]string)
	if cfg.IncludeLocalDefaults {
		for k, v := range localDefaults {
			env[k] = v
		}
	}

	for _, step := range cfg.Inventory {
		value, err := cfg.SSM.GetParameterValue(ctx, cfg.SSM.SSMPath(step.SSMCategoryKey), step.ParamType == ParamSecureString)
		if err != nil {
			var notFound *ssmtypes.ParameterNotFound
			if errors.As(err, &notFound) {
				continue
			}
			return 0, err
		}
		env[step.EnvVar] = value
	}

	if cfg.IncludeLocalDefaults {
		env["CACHE_BACKEND"] = "memory"
		if _, ok := env["REDIS_URL"]; ok {
			env["CACHE_BACKEND"] = "redis"
		}
	}

	if err := godotenv.Write(env, cfg.OutputPath); err != nil {
		return 0, fmt.Errorf("writing %s: %w", cfg.OutputPath, err)
	}
	// The file holds decrypted secrets.
	if err := os.Chmod(cfg.OutputPath, 0o600); err != nil {
		return 0, fmt.Errorf("restricting permissions on %s: %w", cfg.OutputPath, err)
	}
	return len(env), nil
}
