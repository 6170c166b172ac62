package command

import "errors"

var (
	errTooManyCommands    = errors.New("more than 255 commands in one stream")
	errNilForwarded       = errors.New("forwarded command missing inner command")
	errUnknownCommandType = errors.New("unknown command type")
	errTruncated          = errors.New("truncated command stream")
	errBadFieldType       = errors.New("unknown field type byte")
)
