package archive

import "errors"

var (
	ErrNoStores     = errors.New("archive: no stores configured")
	ErrNilRecord    = errors.New("archive: session record cannot be nil")
	ErrRedisNil     = errors.New("archive: redis client cannot be nil")
	ErrRemoteNil    = errors.New("archive: remote saver cannot be nil")
	ErrLoadNotFound = errors.New("archive: remote sink does not serve loads")
)
