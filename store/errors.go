package store

import "fmt"

type notConfiguredError struct {
}

func NewNotConfiguredError() error {
	return &notConfiguredError{}
}

func (err *notConfiguredError) Error() string {
	return "The store is not bound to a tenant, cannot perform this operation"
}

type tenantMismatchError struct {
	entityTenantId string
	storeTenantId  string
}

func NewTenantMismatchError(entityTenantId string, storeTenantId string) error {
	return &tenantMismatchError{entityTenantId: entityTenantId, storeTenantId: storeTenantId}
}

func (err *tenantMismatchError) Error() string {
	return fmt.Sprintf("The entity does not belong to this tenant (%s vs. %s), cannot continue", err.entityTenantId, err.storeTenantId)
}

type notFoundError struct {
}

func NewNotFoundError() error {
	return &notFoundError{}
}

func (err *notFoundError) Error() string {
	return "The requested record was not found"
}

func IsNotFound(err error) bool {
	_, ok := err.(*notFoundError)
	return ok
}
