package dberrors

import "errors"

var (
	ErrNotFound        = errors.New("trustkv: not found")
	ErrClosed          = errors.New("trustkv: closed")
	ErrInvalidArgument = errors.New("trustkv: invalid argument")
	ErrTypeMismatch    = errors.New("trustkv: value type mismatch")
	ErrRoleTaken       = errors.New("trustkv: worker role already claimed")
	ErrNotEnoughCores  = errors.New("trustkv: not enough cores")
)
