package connectivity

import "fmt"

// ErrServiceNotFound means Call targeted a service with neither a route
// row nor a local handler. Usually the operator has not added the route
// yet, or the service name is misspelled.
type ErrServiceNotFound struct {
	Service string
}

func (e *ErrServiceNotFound) Error() string {
	return fmt.Sprintf("connectivity: service not routable: %s", e.Service)
}

// ErrCircuitOpen means the breaker for a service is rejecting calls
// outright after repeated failures. The reset timeout decides when the
// next trial call goes through.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("connectivity: circuit open: %s", e.Service)
}
