package domain

import "errors"

var (
	ErrEmailTaken         = errors.New("email already in use")
	ErrUsernameTaken      = errors.New("username already in use")
	ErrInvalidCredentials = errors.New("wrong username or password")
	ErrInvalidToken       = errors.New("invalid token")
	ErrFederation         = errors.New("federated identity rejected")
	ErrNotFound           = errors.New("not found")
	ErrDelivery           = errors.New("mail delivery failed")
	ErrNoSigningSecret    = errors.New("token secret not configured")
	ErrCredentialFile     = errors.New("mail credential file unavailable")
)
