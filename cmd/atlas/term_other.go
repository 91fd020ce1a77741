//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package main

import (
	"errors"
	"os"
)

func enterRawTerm(*os.File) (func(), error) {
	return nil, errors.New("raw terminal input not supported on this platform")
}
