package service

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
)

// SecretResolver reads deployment secrets such as the webhook signing secret.
type SecretResolver interface {
	Resolve(ctx context.Context, name string) (string, error)
	Close() error
}

type secretManagerResolver struct {
	client    *secretmanager.Client
	projectID string
}

// NewSecretManagerResolver connects to Google Secret Manager for projectID.
func NewSecretManagerResolver(ctx context.Context, projectID string, opts ...option.ClientOption) (SecretResolver, error) {
	if projectID == "" {
		return nil, fmt.Errorf("GCP Project ID is not set for the current environment")
	}
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
	}
	return &secretManagerResolver{client: client, projectID: projectID}, nil
}

// Resolve returns the payload of a secret version. name is either a bare
// secret id (latest version is read) or a full resource name.
func (s *secretManagerResolver) Resolve(ctx context.Context, name string) (string, error) {
	result, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: SecretVersionName(s.projectID, name),
	})
	if err != nil {
		return "", fmt.Errorf("failed to access secret version %s: %w", name, err)
	}
	return strings.TrimSpace(string(result.Payload.Data)), nil
}

func (s *secretManagerResolver) Close() error {
	return s.client.Close()
}

// SecretVersionName expands a bare secret id into its latest-version resource name.
func SecretVersionName(projectID, name string) string {
	if strings.HasPrefix(name, "projects/") {
		if strings.Contains(name, "/versions/") {
			return name
		}
		return name + "/versions/latest"
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", projectID, name)
}

// ResolveSecret returns value when set, otherwise reads secretName through r.
func ResolveSecret(ctx context.Context, r SecretResolver, value, secretName string) (string, error) {
	if value != "" || secretName == "" {
		return value, nil
	}
	if r == nil {
		return "", fmt.Errorf("secret %s requires Secret Manager", secretName)
	}
	return r.Resolve(ctx, secretName)
}
