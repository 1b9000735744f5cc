package repository

import "github.com/pkg/errors"

var (
	ErrEmailNotFound = errors.New("email not found")
	ErrInvalidInput  = errors.New("invalid input parameters")
)
