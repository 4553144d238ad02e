package config

import (
	"context"
	"fmt"
	"strings"
)

// SecretGetter читает параметр по полному имени (реализуется клиентом SSM Parameter Store)
type SecretGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// ResolveSecrets заполняет пустые секреты из Parameter Store под префиксом secrets.ssm_prefix.
// Значения, уже заданные в окружении или файле, не перезаписываются.
func (c *Config) ResolveSecrets(ctx context.Context, getter SecretGetter) error {
	prefix := strings.TrimRight(strings.TrimSpace(c.Secrets.SSMPrefix), "/")
	if prefix == "" || getter == nil {
		return nil
	}

	targets := []struct {
		name  string
		value *string
	}{
		{"twilio-account-sid", &c.Twilio.AccountSID},
		{"twilio-auth-token", &c.Twilio.AuthToken},
		{"openai-api-key", &c.OpenAI.APIKey},
	}

	for _, target := range targets {
		if *target.value != "" {
			continue
		}
		value, err := getter.GetParameter(ctx, prefix+"/"+target.name)
		if err != nil {
			return fmt.Errorf("resolve secret %s: %w", target.name, err)
		}
		*target.value = strings.TrimSpace(value)
	}

	return nil
}
