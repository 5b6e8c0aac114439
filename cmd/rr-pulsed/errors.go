package main

import "errors"

var (
	ErrConfig        = errors.New("configuration error")
	ErrRules         = errors.New("rules error")
	ErrWhitelistDB   = errors.New("whitelist database")
	ErrWhitelistBusy = errors.New("whitelist database is locked; stop the daemon or use the host API")
	ErrInvalidDomain = errors.New("invalid domain")
)
