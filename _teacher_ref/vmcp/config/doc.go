// Package config provides the configuration model for Virtual MCP Server.
//
// This package defines a platform-agnostic configuration model that works
// for both CLI (YAML) and Kubernetes (CRD) deployments.
//
// +groupName=toolhive.stacklok.dev
// +versionName=config
package config
