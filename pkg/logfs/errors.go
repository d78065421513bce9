package logfs

import "errors"

var (
	ErrNoSuperblock      = errors.New("logfs: no valid superblock")
	ErrFormat            = errors.New("logfs: format failure")
	ErrNoExistingFile    = errors.New("logfs: no existing file")
	ErrFileTooLong       = errors.New("logfs: file too long")
	ErrFileNotOpen       = errors.New("logfs: file not open")
	ErrSdRead            = errors.New("logfs: medium read failure")
	ErrSdWrite           = errors.New("logfs: medium write failure")
	ErrWriteInProgress   = errors.New("logfs: write in progress")
	ErrCannotReadNewFile = errors.New("logfs: cannot read file being written")
	ErrSeekPastEnd       = errors.New("logfs: seek past end of file")
	ErrReadOnly          = errors.New("logfs: file opened for reading")
	ErrNoSpace           = errors.New("logfs: medium full")
	ErrUnaligned         = errors.New("logfs: file end not block aligned")
)
