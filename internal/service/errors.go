package service

import (
	"errors"

	"github.com/pesio-ai/be-shop-accounts/internal/form"
	"github.com/pesio-ai/be-shop-accounts/internal/repository"
)

var (
	ErrEmailAlreadyExists = errors.New("email already exists")
	ErrPhoneAlreadyExists = errors.New("phone already exists")
	ErrWeakPassword       = errors.New("password too weak")
	// ErrMissingDefaultRole is a deployment defect, not a user error
	ErrMissingDefaultRole = errors.New("default role is missing")
	// ErrInvalidCredentials covers unknown email, wrong password and
	// disabled accounts alike
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountNotFound    = errors.New("account not found")

	ErrAlreadyAssigned = repository.ErrAlreadyAssigned
	ErrFieldValidation = form.ErrFieldValidation
)
