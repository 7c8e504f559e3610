package checkout

import "errors"

var ErrInvalidRequest = errors.New("invalid checkout request")
