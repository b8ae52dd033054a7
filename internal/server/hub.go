// Package server assembles the registration hub: the Hub facade exposing the
// full RPC surface, the construction wiring behind it, and the process
// lifecycle around the gRPC and operational HTTP endpoints.
package server

import (
	"context"

	registrationv1 "github.com/pipestream-ai/platform-registration/api/registration/v1"
	"github.com/pipestream-ai/platform-registration/internal/discovery"
	"github.com/pipestream-ai/platform-registration/internal/registry"
	"github.com/pipestream-ai/platform-registration/internal/schemas"
)

// Hub is the single implementation of the registration RPC surface. Writes
// go through the registration orchestrator, reads through the discovery
// surface, and schema lookups through the layered retriever.
type Hub struct {
	*registry.Orchestrator
	*discovery.Surface
	schemas schemas.Service
}

var _ registrationv1.RegistrationService = (*Hub)(nil)

// NewHub combines the write, read and schema paths behind one surface.
func NewHub(orchestrator *registry.Orchestrator, surface *discovery.Surface, schemaService schemas.Service) *Hub {
	return &Hub{
		Orchestrator: orchestrator,
		Surface:      surface,
		schemas:      schemaService,
	}
}

// GetModuleSchema resolves a module's config schema through the layered
// store, registry and module-direct lookup.
func (h *Hub) GetModuleSchema(ctx context.Context, req *registrationv1.ModuleSchemaRequest) (*registrationv1.ModuleSchemaResponse, error) {
	return h.schemas.GetModuleSchema(ctx, req)
}
