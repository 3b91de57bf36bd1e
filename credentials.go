package kustoingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Environment variable names shared with the dotenv credential file.
const (
	EnvTenantID     = "TENANT_ID"
	EnvClientID     = "CLIENT_ID"
	EnvClientSecret = "SECRET"
)

// Credentials identify the AAD application used to obtain bearer tokens
// for both the query and the ingestion endpoint.
type Credentials struct {
	TenantID     string `toml:"tenant_id"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	AccessToken  string `toml:"access_token"`
}

// Empty reports whether no usable credential is present.
func (c Credentials) Empty() bool {
	return c.AccessToken == "" && (c.TenantID == "" || c.ClientID == "" || c.ClientSecret == "")
}

// LoadCredentials reads credentials from path and applies process
// environment overrides. A ".toml" file is decoded as TOML, anything else
// as a dotenv file. A missing file is not an error as long as the
// environment supplies the values.
func LoadCredentials(path string) (Credentials, error) {
	var creds Credentials
	if path != "" {
		fileCreds, err := readCredentialFile(path)
		switch {
		case err == nil:
			creds = fileCreds
		case os.IsNotExist(err):
		default:
			return Credentials{}, fmt.Errorf("failed to read credentials from %s: %w", path, err)
		}
	}

	if v := os.Getenv(EnvTenantID); v != "" {
		creds.TenantID = v
	}
	if v := os.Getenv(EnvClientID); v != "" {
		creds.ClientID = v
	}
	if v := os.Getenv(EnvClientSecret); v != "" {
		creds.ClientSecret = v
	}

	if creds.Empty() {
		return creds, ErrMissingCredentials
	}
	return creds, nil
}

func readCredentialFile(path string) (Credentials, error) {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		var creds Credentials
		if _, err := toml.DecodeFile(path, &creds); err != nil {
			return Credentials{}, err
		}
		return creds, nil
	}

	if _, err := os.Stat(path); err != nil {
		return Credentials{}, err
	}
	values, err := godotenv.Read(path)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{
		TenantID:     values[EnvTenantID],
		ClientID:     values[EnvClientID],
		ClientSecret: values[EnvClientSecret],
	}, nil
}
