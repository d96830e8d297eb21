package consts

import "errors"

var (
	// Maildrop session errors. The protocol layer maps these to -ERR responses.
	ErrNoSuchInbox        = errors.New("no such inbox")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrMailboxInUse       = errors.New("[IN-USE] Do you have another POP session running?")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotListed          = errors.New("maildrop not listed yet")
	ErrSequenceNotFound   = errors.New("no such message")
	ErrMessageGone        = errors.New("message no longer available")

	ErrDBNotFound = errors.New("not found")

	ErrS3ObjectNotFound = errors.New("s3 object not found")
)
