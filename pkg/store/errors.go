package store

import (
	"errors"
	"fmt"
)

var errTxDone = errors.New("transaction already finished")

func errDuplicateID(id string) error {
	return fmt.Errorf("entry id %q already exists", id)
}

func errDuplicateHash(hash string) error {
	return fmt.Errorf("entry hash %q already exists", hash)
}
