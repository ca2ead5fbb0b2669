package service

import (
	"context"
	"errors"

	"trustkit/internal/vault/models"
	dErrors "trustkit/pkg/domain-errors"
	"trustkit/pkg/requestcontext"
)

const (
	credentialsPrefix = "credentials."
	tokenPrefix       = "oauth."
)

// StoreCredentials saves an account's login bundle as one item, gated behind
// the device passcode.
func (s *Service) StoreCredentials(ctx context.Context, account string, creds models.Credentials) error {
	if account == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "account is required")
	}
	if creds.Username == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "username is required")
	}
	b, err := models.Marshal(creds)
	if err != nil {
		return err
	}
	return s.Store(ctx, credentialsPrefix+account, b, models.StoreOptions{AccessControl: models.AccessDevicePasscode})
}

func (s *Service) RetrieveCredentials(ctx context.Context, account string) (*models.Credentials, error) {
	b, err := s.Retrieve(ctx, credentialsPrefix+account)
	if err != nil {
		return nil, err
	}
	var creds models.Credentials
	if err := models.Unmarshal(b, &creds); err != nil {
		return nil, &models.StorageError{Op: "retrieve_credentials", Key: credentialsPrefix + account, Kind: models.KindReadFailed, Err: err}
	}
	return &creds, nil
}

// UpdatePassword replaces only the password of a stored bundle.
func (s *Service) UpdatePassword(ctx context.Context, account, password string) error {
	creds, err := s.RetrieveCredentials(ctx, account)
	if err != nil {
		return err
	}
	creds.Password = password
	b, err := models.Marshal(creds)
	if err != nil {
		return err
	}
	return s.Update(ctx, credentialsPrefix+account, b)
}

// StoreToken saves an OAuth token. IssuedAt defaults to now. The item itself
// does not expire, so the refresh token outlives the access token.
func (s *Service) StoreToken(ctx context.Context, name string, token models.OAuthToken) error {
	if name == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "token name is required")
	}
	if token.AccessToken == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "access token is required")
	}
	if token.IssuedAt.IsZero() {
		token.IssuedAt = requestcontext.Now(ctx)
	}
	b, err := models.Marshal(token)
	if err != nil {
		return err
	}
	return s.Store(ctx, tokenPrefix+name, b, models.StoreOptions{AccessControl: models.AccessDevicePasscode})
}

// RetrieveToken returns the stored token. When the access token is past its
// lifetime the token is still returned, together with ErrTokenExpired, so the
// caller can use its refresh token.
func (s *Service) RetrieveToken(ctx context.Context, name string) (*models.OAuthToken, error) {
	key := tokenPrefix + name
	b, err := s.Retrieve(ctx, key)
	if err != nil {
		return nil, err
	}
	var token models.OAuthToken
	if err := models.Unmarshal(b, &token); err != nil {
		return nil, &models.StorageError{Op: "retrieve_token", Key: key, Kind: models.KindReadFailed, Err: err}
	}
	if exp := token.ExpiresAt(); !exp.IsZero() && !requestcontext.Now(ctx).Before(exp) {
		return &token, models.ErrTokenExpired
	}
	return &token, nil
}

// RefreshToken stores a new access token. An empty refresh token in next
// keeps the previously stored one.
func (s *Service) RefreshToken(ctx context.Context, name string, next models.OAuthToken) error {
	if next.RefreshToken == "" {
		prev, err := s.RetrieveToken(ctx, name)
		if err != nil && !errors.Is(err, models.ErrTokenExpired) {
			return err
		}
		next.RefreshToken = prev.RefreshToken
	}
	next.IssuedAt = requestcontext.Now(ctx)
	return s.StoreToken(ctx, name, next)
}
