package agent

import "errors"

// ErrBadToolArgs indicates the model sent script-tool arguments that do not
// validate: not a JSON object, or no usable `source` string.
var ErrBadToolArgs = errors.New("invalid tool arguments")
