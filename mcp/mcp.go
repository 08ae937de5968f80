// Package mcp exposes the runtime as Model Context Protocol tools so an
// assistant can inspect components, issue commands and wait on state.
package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbocsi/scryer/services"
)

type MCPServer struct {
	Server   *server.MCPServer
	services *services.ServiceContainer
	logger   *slog.Logger
}

func NewMCPServer(version string, serviceContainer *services.ServiceContainer, logger *slog.Logger) *MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &MCPServer{
		Server:   server.NewMCPServer("scryer", version, server.WithToolCapabilities(false)),
		services: serviceContainer,
		logger:   logger,
	}
	s.registerComponentTools()
	s.registerCommandTools()
	s.registerEventTools()
	s.registerApparatusTools()
	return s
}

// Run serves on stdin/stdout until the peer goes away.
func (s *MCPServer) Run() error {
	s.logger.Info("Started stdio MCP server")
	defer func() {
		s.logger.Info("Shut down stdio MCP server")
	}()
	return server.ServeStdio(s.Server)
}
