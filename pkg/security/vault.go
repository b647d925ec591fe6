package security

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/terrapool/pkg/log"
	"github.com/cuemby/terrapool/pkg/storage"
	"github.com/cuemby/terrapool/pkg/types"
)

// ErrInvalidCredential is returned by Add for a credential that cannot be stored
var ErrInvalidCredential = errors.New("invalid credential")

// Vault stores credentials with their secret parts sealed
type Vault struct {
	store   storage.Store
	secrets *SecretsManager
}

// NewVault creates a vault over store
func NewVault(store storage.Store, secrets *SecretsManager) *Vault {
	return &Vault{store: store, secrets: secrets}
}

// Add stores cred, replacing any credential with the same id
func (v *Vault) Add(cred *types.Credential) error {
	if cred.ID == "" {
		return fmt.Errorf("%w: id cannot be empty", ErrInvalidCredential)
	}

	var plaintext string
	switch cred.Kind {
	case types.CredentialUsernamePassword:
		plaintext = cred.Password
	case types.CredentialSecret:
		plaintext = cred.Secret
	default:
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidCredential, cred.Kind)
	}

	sealed, err := v.secrets.SealString(plaintext)
	if err != nil {
		return fmt.Errorf("failed to seal credential %s: %w", cred.ID, err)
	}

	return v.store.SaveCredential(&storage.CredentialRecord{
		ID:          cred.ID,
		Kind:        cred.Kind,
		Description: cred.Description,
		Username:    cred.Username,
		Sealed:      sealed,
	})
}

// Remove deletes the credential id
func (v *Vault) Remove(id string) error {
	return v.store.DeleteCredential(id)
}

// List returns every credential without its secret parts
func (v *Vault) List() ([]*types.Credential, error) {
	records, err := v.store.ListCredentials()
	if err != nil {
		return nil, err
	}

	creds := make([]*types.Credential, 0, len(records))
	for _, r := range records {
		creds = append(creds, &types.Credential{
			ID:          r.ID,
			Kind:        r.Kind,
			Description: r.Description,
			Username:    r.Username,
		})
	}
	return creds, nil
}

// Credentials resolves ids to opened credentials. Unknown ids are left out,
// as are credentials that can no longer be opened.
func (v *Vault) Credentials(ctx context.Context, ids []string) ([]*types.Credential, error) {
	logger := log.WithComponent("vault")

	var creds []*types.Credential
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		r, err := v.store.GetCredential(id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		plaintext, err := v.secrets.OpenString(r.Sealed)
		if err != nil {
			logger.Warn().Err(err).Str("credential", id).Msg("Failed to open credential")
			continue
		}

		cred := &types.Credential{
			ID:          r.ID,
			Kind:        r.Kind,
			Description: r.Description,
			Username:    r.Username,
		}
		switch r.Kind {
		case types.CredentialUsernamePassword:
			cred.Password = plaintext
		case types.CredentialSecret:
			cred.Secret = plaintext
		}
		creds = append(creds, cred)
	}
	return creds, nil
}
