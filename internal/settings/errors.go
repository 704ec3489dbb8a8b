package settings

import "errors"

// ErrEmptyKeyword is returned when an exclusion is added without a keyword.
var ErrEmptyKeyword = errors.New("keyword is required")
