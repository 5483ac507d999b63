package auth

import "errors"

var (
	ErrInvalidCredentials       = errors.New("auth: invalid credentials")
	ErrInvalidToken             = errors.New("auth: invalid token")
	ErrSecretInvalid            = errors.New("auth: invalid or expired secret")
	ErrCurrentPasswordIncorrect = errors.New("auth: current password is incorrect")
	ErrAccountInactive          = errors.New("auth: account inactive")
	ErrCompanyInactive          = errors.New("auth: company inactive")
	ErrConflict                 = errors.New("auth: conflict")
	ErrNotFound                 = errors.New("auth: not found")
	ErrInvalidInput             = errors.New("auth: invalid input")
	ErrForbidden                = errors.New("auth: forbidden")
)
