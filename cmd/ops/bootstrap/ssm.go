package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// ssmNamespace is the second path segment of every parameter.
const ssmNamespace = "sunspot"

// ssmOperationTimeout bounds each SSM call.
const ssmOperationTimeout = 15 * time.Second

// SSMClient is the subset of the SSM API the bootstrap tool uses.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

// SSMManager wraps an SSM client with environment-aware paths and logging
// that never prints SecureString values.
type SSMManager struct {
	client SSMClient
	env    string
	logger *slog.Logger
}

// NewSSMManager builds an SSMManager on the session's AWS config.
func NewSSMManager(bctx *BootstrapContext) *SSMManager {
	return NewSSMManagerWithClient(ssm.NewFromConfig(bctx.AWSConfig), bctx.Environment, bctx.Logger)
}

// NewSSMManagerWithClient creates an SSMManager around client.
func NewSSMManagerWithClient(client SSMClient, env string, logger *slog.Logger) *SSMManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SSMManager{client: client, env: env, logger: logger}
}

// SSMPath returns /{env}/sunspot/{categoryAndKey}.
func (m *SSMManager) SSMPath(categoryAndKey string) string {
	return fmt.Sprintf("/%s/%s/%s", m.env, ssmNamespace, categoryAndKey)
}

// ParameterExists reports whether path is set. It does not decrypt, so
// kms:Decrypt is not needed for the probe.
func (m *SSMManager) ParameterExists(ctx context.Context, path string) (bool, error) {
	_, err := m.get(ctx, path, false)
	if err != nil {
		var notFound *ssmtypes.ParameterNotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("checking SSM parameter %q: %w", path, err)
	}
	return true, nil
}

// GetParameterValue reads path, decrypting SecureStrings when decrypt is set.
// A missing parameter is returned as *ssmtypes.ParameterNotFound.
func (m *SSMManager) GetParameterValue(ctx context.Context, path string, decrypt bool) (string, error) {
	out, err := m.get(ctx, path, decrypt)
	if err != nil {
		return "", fmt.Errorf("reading SSM parameter %q: %w", path, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("SSM parameter %q has no value", path)
	}
	return aws.ToString(out.Parameter.Value), nil
}

func (m *SSMManager) get(ctx context.Context, path string, decrypt bool) (*ssm.GetParameterOutput, error) {
	opCtx, cancel := context.WithTimeout(ctx, ssmOperationTimeout)
	defer cancel()
	return m.client.GetParameter(opCtx, &ssm.GetParameterInput{
		Name:           aws.String(path),
		WithDecryption: aws.Bool(decrypt),
	})
}

// PutSecret writes an encrypted SecureString parameter.
func (m *SSMManager) PutSecret(ctx context.Context, path, value string, overwrite bool) error {
	return m.putParameter(ctx, path, value, ssmtypes.ParameterTypeSecureString, overwrite)
}

// PutString writes a plaintext String parameter, replacing any old value.
func (m *SSMManager) PutString(ctx context.Context, path, value string) error {
	return m.putParameter(ctx, path, value, ssmtypes.ParameterTypeString, true)
}

func (m *SSMManager) putParameter(ctx context.Context, path, value string, paramType ssmtypes.ParameterType, overwrite bool) error {
	if path == "" {
		return fmt.Errorf("SSM parameter path must not be empty")
	}
	if value == "" {
		return fmt.Errorf("SSM parameter value must not be empty for path %q", path)
	}

	opCtx, cancel := context.WithTimeout(ctx, ssmOperationTimeout)
	defer cancel()

	_, err := m.client.PutParameter(opCtx, &ssm.PutParameterInput{
		Name:      aws.String(path),
		Value:     aws.String(value),
		Type:      paramType,
		Overwrite: aws.Bool(overwrite),
	})
	if err != nil {
		var alreadyExists *ssmtypes.ParameterAlreadyExists
		if errors.As(err, &alreadyExists) {
			return fmt.Errorf("SSM parameter %q already exists: %w", path, err)
		}
		return fmt.Errorf("writing SSM parameter %q: %w", path, err)
	}

	attrs := []any{"path", path, "type", string(paramType)}
	if paramType == ssmtypes.ParameterTypeSecureString {
		attrs = append(attrs, "value_length", len(value))
	} else {
		attrs = append(attrs, "value", value)
	}
	m.logger.InfoContext(ctx, "SSM parameter written", attrs...)
	return nil
}
