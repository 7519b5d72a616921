package service

import "errors"

var (
	ErrDeviceNotInferred  = errors.New("device type could not be inferred")
	ErrUnknownDeviceType  = errors.New("unknown device type")
	ErrVersionNotAdvanced = errors.New("migration step did not advance the version")
	ErrMissingIdentity    = errors.New("device identity incomplete")
	ErrVersionTooOld      = errors.New("entry version predates the first known version")
)
