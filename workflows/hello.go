// Package workflows holds the workflow definitions executed by the worker.
package workflows

import (
	"go.temporal.io/sdk/workflow"
)

// HelloWorldName is the workflow type name clients use to start SayHello.
const HelloWorldName = "HelloWorldWorkflow"

// Registrar registers a workflow function under a type name.
type Registrar interface {
	RegisterWorkflow(name string, fn any) error
}

// Greeting formats the greeting for name. An empty name is allowed.
func Greeting(name string) string {
	return "Hello " + name + "!"
}

// SayHello is the HelloWorldWorkflow implementation.
func SayHello(ctx workflow.Context, name string) (string, error) {
	greeting := Greeting(name)
	workflow.GetLogger(ctx).Info("greeting computed", "name", name)
	return greeting, nil
}

// Register registers every workflow of this package with r.
func Register(r Registrar) error {
	return r.RegisterWorkflow(HelloWorldName, SayHello)
}
