package controllers

import (
	"github.com/podforge/podforge/internal/pkg/billing"
	"github.com/podforge/podforge/internal/pkg/credentials"
	"github.com/podforge/podforge/internal/pkg/quota"
)

// Shared service instances, injected once at application start.
var (
	stateMachine    *billing.StateMachine
	quotaGuard      *quota.Guard
	credentialStore *credentials.Store
	gatewayRegistry *billing.Registry
)

// Setup wires the controllers to their backing services. Must run before any
// route is served.
func Setup(sm *billing.StateMachine, guard *quota.Guard, store *credentials.Store, registry *billing.Registry) {
	stateMachine = sm
	quotaGuard = guard
	credentialStore = store
	gatewayRegistry = registry
}
