package models

import "errors"

var (
	// ErrInvalidRecord means a record window fails structural validity:
	// bad discriminator, zero axis length, implausible addresses.
	ErrInvalidRecord = errors.New("invalid map record")

	// ErrUnsupportedFormat means the element-format discriminator decodes
	// to a width this tool does not handle.
	ErrUnsupportedFormat = errors.New("unsupported element format")

	// ErrOutOfBounds means a record window or referenced region would
	// read past the end of the firmware image.
	ErrOutOfBounds = errors.New("read past end of image")
)
