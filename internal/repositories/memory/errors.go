package memory

import "errors"

var errEmptyRef = errors.New("hold ref is required")
