package main

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidMedicine = errors.New("invalid medicine")
	ErrInvalidTime     = errors.New("invalid time of day")
	ErrInvalidConfig   = errors.New("invalid configuration")

	ErrTimezoneNotFound = errors.New("timezone not found for location")
	ErrResolverTimeout  = errors.New("timezone resolver timed out")
)
