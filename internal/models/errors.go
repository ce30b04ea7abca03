package models

import (
	"errors"
	"fmt"
)

var errNoProbe = errors.New("models: no probe configured")

type probePanic struct {
	value any
}

func (p *probePanic) Error() string {
	return fmt.Sprintf("models: probe panicked: %v", p.value)
}
