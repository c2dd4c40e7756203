// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkeys.
//
// go-passkeys is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package session

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	awstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
)

// KMSClient is the subset of the AWS KMS API used by KMSSigner.
type KMSClient interface {
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
}

// KMSConfig contains configuration for AWS KMS signing.
type KMSConfig struct {
	// Region is the AWS region of the key.
	Region string `yaml:"region" json:"region" mapstructure:"region"`

	// KeyID is the KMS key ID, ARN or alias.
	KeyID string `yaml:"key_id" json:"key_id" mapstructure:"key_id"`

	// AccessKeyID is the AWS access key ID.
	// Optional - if not provided, will use IAM role or environment credentials.
	AccessKeyID string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty" mapstructure:"access_key_id"`

	// SecretAccessKey is the AWS secret access key.
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty" mapstructure:"secret_access_key"`

	// SessionToken is the AWS session token for temporary credentials.
	SessionToken string `yaml:"session_token,omitempty" json:"session_token,omitempty" mapstructure:"session_token"`

	// Endpoint is a custom KMS endpoint URL, e.g. LocalStack.
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" mapstructure:"endpoint"`
}

// NewKMSClient builds a KMS client from the default AWS configuration chain,
// overridden by any static credentials or endpoint in config.
func NewKMSClient(ctx context.Context, config *KMSConfig) (*kms.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if config.Region != "" {
		opts = append(opts, awsconfig.WithRegion(config.Region))
	}

	// Use static credentials if provided
	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(
			config.AccessKeyID,
			config.SecretAccessKey,
			config.SessionToken,
		)
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var clientOpts []func(*kms.Options)
	if config.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *kms.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
		})
	}
	return kms.NewFromConfig(cfg, clientOpts...), nil
}

// KMSSigner implements crypto.Signer with an asymmetric AWS KMS key. The
// private key never leaves KMS.
type KMSSigner struct {
	client    KMSClient
	keyID     string
	publicKey crypto.PublicKey
	timeout   time.Duration
}

// NewKMSSigner fetches the public key of keyID and returns a signer for it.
// ECC_NIST_P256/P384 and RSA signing keys are supported.
func NewKMSSigner(ctx context.Context, client KMSClient, keyID string) (*KMSSigner, error) {
	if client == nil {
		return nil, fmt.Errorf("kms client is required")
	}
	if keyID == "" {
		return nil, fmt.Errorf("kms key id is required")
	}

	output, err := client.GetPublicKey(ctx, &kms.GetPublicKeyInput{
		KeyId: aws.String(keyID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get public key: %w", err)
	}

	pub, err := x509.ParsePKIXPublicKey(output.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	switch pub.(type) {
	case *ecdsa.PublicKey, *rsa.PublicKey:
	default:
		return nil, fmt.Errorf("%w: unsupported kms key type %T", ErrInvalidKey, pub)
	}

	return &KMSSigner{
		client:    client,
		keyID:     keyID,
		publicKey: pub,
		timeout:   10 * time.Second,
	}, nil
}

// Public returns the public half of the KMS key.
func (s *KMSSigner) Public() crypto.PublicKey {
	return s.publicKey
}

// Sign signs a digest in KMS. ECDSA signatures are ASN.1 DER encoded, as
// crypto.Signer requires.
func (s *KMSSigner) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	algorithm, err := s.signingAlgorithm(opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	output, err := s.client.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(s.keyID),
		Message:          digest,
		MessageType:      awstypes.MessageTypeDigest,
		SigningAlgorithm: algorithm,
	})
	if err != nil {
		return nil, fmt.Errorf("KMS sign operation failed: %w", err)
	}
	return output.Signature, nil
}

func (s *KMSSigner) signingAlgorithm(opts crypto.SignerOpts) (awstypes.SigningAlgorithmSpec, error) {
	hash := opts.HashFunc()
	_, pss := opts.(*rsa.PSSOptions)

	switch s.publicKey.(type) {
	case *ecdsa.PublicKey:
		switch hash {
		case crypto.SHA256:
			return awstypes.SigningAlgorithmSpecEcdsaSha256, nil
		case crypto.SHA384:
			return awstypes.SigningAlgorithmSpecEcdsaSha384, nil
		case crypto.SHA512:
			return awstypes.SigningAlgorithmSpecEcdsaSha512, nil
		}
	case *rsa.PublicKey:
		switch {
		case hash == crypto.SHA256 && pss:
			return awstypes.SigningAlgorithmSpecRsassaPssSha256, nil
		case hash == crypto.SHA384 && pss:
			return awstypes.SigningAlgorithmSpecRsassaPssSha384, nil
		case hash == crypto.SHA512 && pss:
			return awstypes.SigningAlgorithmSpecRsassaPssSha512, nil
		case hash == crypto.SHA256:
			return awstypes.SigningAlgorithmSpecRsassaPkcs1V15Sha256, nil
		case hash == crypto.SHA384:
			return awstypes.SigningAlgorithmSpecRsassaPkcs1V15Sha384, nil
		case hash == crypto.SHA512:
			return awstypes.SigningAlgorithmSpecRsassaPkcs1V15Sha512, nil
		}
	}
	return "", fmt.Errorf("%w: hash %v for %T", ErrUnsupportedAlgorithm, hash, s.publicKey)
}
