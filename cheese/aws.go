package cheese

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsManagerClient defines the interface for AWS Secrets Manager operations.
type SecretsManagerClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecrets returns a FetchSecrets function that retrieves the CHEESE API key
// from AWS Secrets Manager. The secret is expected to be stored at the path
// "{environment}/cheese" and contain JSON with an api_key field.
func AWSSecrets(ctx context.Context, client SecretsManagerClient, env string) FetchSecrets {
	return awsSecrets(ctx, client, fmt.Sprintf("%s/cheese", env), "at path")
}

// AWSSecretsFromARN returns a FetchSecrets function that retrieves the CHEESE API key
// from AWS Secrets Manager using the provided secret ARN.
// The secret is expected to contain JSON with an api_key field.
func AWSSecretsFromARN(ctx context.Context, client SecretsManagerClient, secretArn string) FetchSecrets {
	return awsSecrets(ctx, client, secretArn, "with ARN")
}

func awsSecrets(ctx context.Context, client SecretsManagerClient, secretID, where string) FetchSecrets {
	return func() (Secrets, error) {
		input := &secretsmanager.GetSecretValueInput{
			SecretId: aws.String(secretID),
		}

		result, err := client.GetSecretValue(ctx, input)
		if err != nil {
			return Secrets{}, fmt.Errorf("failed to get secret from AWS Secrets Manager %s %s: %w", where, secretID, err)
		}

		if result.SecretString == nil {
			return Secrets{}, fmt.Errorf("secret %s %s has no string value", where, secretID)
		}

		var secrets Secrets
		if err := json.Unmarshal([]byte(aws.ToString(result.SecretString)), &secrets); err != nil {
			return Secrets{}, fmt.Errorf("failed to unmarshal secret JSON %s %s: %w", where, secretID, err)
		}

		return secrets, nil
	}
}
