package domain

import (
	"errors"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrJobGroupNotFound = errors.New("job group not found")
)
