//go:build tools

// Package tools pins the code generators run by go generate so they are
// versioned in go.mod alongside the code they produce.
package tools

import (
	_ "go.uber.org/mock/mockgen"
)
