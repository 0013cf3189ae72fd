package services

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("not allowed for this user")
	ErrInvalidState = errors.New("deal is not in a state that allows this action")
	ErrTransport    = errors.New("external service failure")

	ErrBelowMinimum   = fmt.Errorf("%w: amount below minimum", ErrValidation)
	ErrInvalidAddress = fmt.Errorf("%w: invalid address", ErrValidation)
	ErrSameIdentity   = fmt.Errorf("%w: sender and receiver must differ", ErrValidation)

	ErrBroadcast = fmt.Errorf("%w: payout broadcast failed", ErrTransport)
)
