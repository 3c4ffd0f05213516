package backend

import (
	"context"
	"errors"
)

var ErrNoToken = errors.New("no session token available")

// TokenSource supplies the value sent in the Authorization header.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource backed by a fixed token, typically from the environment.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}
