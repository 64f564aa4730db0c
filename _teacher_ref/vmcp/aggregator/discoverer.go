// Package aggregator provides platform-specific backend discovery implementations.
//
// This file serves as a navigation reference for backend discovery implementations:
//   - CLI (Docker/Podman): see cli_discoverer.go
//   - Kubernetes: see k8s_discoverer.go
//
// The BackendDiscoverer interface is defined in aggregator.go.
package aggregator
