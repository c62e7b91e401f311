// internal/service/module.go
package service

// Module groups services that share state. Init runs once, before the
// services are registered.
type Module interface {
	Name() string
	Init() error
	Services() ([]*Definition, error)
}
