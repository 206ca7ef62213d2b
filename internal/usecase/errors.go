package usecase

import "errors"

var errStreamClosed = errors.New("price stream closed")
