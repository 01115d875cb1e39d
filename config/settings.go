package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Marfusios/strike-lightning-bridge/constants"
)

var validate = validator.New()

// StrikeSettings is one tenant's connection configuration for the
// Strike API.
type StrikeSettings struct {
	ApiKey string `validate:"required"`
	// Target receiving currency, or the "fiat" sentinel which is
	// resolved to the account's fiat currency on first connection.
	Currency string `validate:"required"`
	// Optional API server override, mainly for tests and sandboxes.
	Server string `validate:"omitempty,url"`
	// Optional currency to convert into after each settlement.
	ConvertTo string
}

// ParseConnectionValues builds settings from a parsed key=value
// connection configuration map. Returns nil without an error when the
// map describes a different connection type.
func ParseConnectionValues(kv map[string]string) (*StrikeSettings, error) {
	if kv[constants.CONNECTION_KEY_TYPE] != constants.CONNECTION_TYPE_STRIKE {
		return nil, nil
	}

	settings := &StrikeSettings{
		ApiKey:    kv[constants.CONNECTION_KEY_API_KEY],
		Currency:  strings.ToUpper(kv[constants.CONNECTION_KEY_CURRENCY]),
		Server:    kv[constants.CONNECTION_KEY_SERVER],
		ConvertTo: strings.ToUpper(kv[constants.CONNECTION_KEY_CONVERT]),
	}

	err := validate.Struct(settings)
	if err != nil {
		return nil, fmt.Errorf("invalid strike connection configuration: %w", err)
	}
	return settings, nil
}

// ExtractConnectionValues splits a key=value;key=value connection
// string into a map. Bootstrap glue for connections supplied through
// the environment; the host platform normally hands over the parsed
// map directly.
func ExtractConnectionValues(connectionString string) (map[string]string, error) {
	kv := map[string]string{}
	for _, pair := range strings.Split(connectionString, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, found := strings.Cut(pair, "=")
		if !found {
			return nil, errors.New("connection string parts must be key=value pairs")
		}
		kv[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}
	return kv, nil
}

// TenantId derives the tenant boundary from the full connection
// configuration. Every field participates: two configurations sharing
// an api key but differing in currency are distinct tenants.
func (s *StrikeSettings) TenantId() string {
	canonical := strings.Join([]string{
		constants.CONNECTION_TYPE_STRIKE,
		s.ApiKey,
		strings.ToUpper(s.Currency),
		s.Server,
		strings.ToUpper(s.ConvertTo),
	}, ";")
	hash := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(hash[:])
}
