package dbconfig

import "github.com/pkg/errors"

var (
	ErrClaimNotFound   = errors.New("claim not found")
	ErrDatabaseConnect = errors.New("failed to connect to database")
	ErrInvalidIdentity = errors.New("invalid identity")
)
