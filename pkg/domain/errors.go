package domain

import (
	"errors"
	"fmt"
)

// EntityType names a persisted entity kind in error messages.
type EntityType string

const (
	EntityStudy                  EntityType = "study"
	EntityTrial                  EntityType = "trial"
	EntitySuggestOperation       EntityType = "suggest operation"
	EntityEarlyStoppingOperation EntityType = "early stopping operation"
)

// ErrNotFound is returned when a named entity does not exist.
type ErrNotFound struct {
	Entity EntityType
	Name   string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Name)
}

// ErrAlreadyExists is returned when creating an entity whose name is taken.
type ErrAlreadyExists struct {
	Entity EntityType
	Name   string
}

func (e ErrAlreadyExists) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Entity, e.Name)
}

// ErrInvalidState is returned when a mutation is illegal in the entity's
// current lifecycle state, e.g. completing an operation that is already done.
type ErrInvalidState struct {
	Entity EntityType
	Name   string
	Reason string
}

func (e ErrInvalidState) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Entity, e.Name, e.Reason)
}

// IsNotFound reports whether err is an ErrNotFound.
func IsNotFound(err error) bool {
	var nf ErrNotFound
	return errors.As(err, &nf)
}

// IsAlreadyExists reports whether err is an ErrAlreadyExists.
func IsAlreadyExists(err error) bool {
	var ae ErrAlreadyExists
	return errors.As(err, &ae)
}

// IsInvalidState reports whether err is an ErrInvalidState.
func IsInvalidState(err error) bool {
	var is ErrInvalidState
	return errors.As(err, &is)
}
