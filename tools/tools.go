//go:build tools

// Package tools pins the development tooling used by the repository so
// `go mod tidy` keeps their versions tracked alongside the code.
package tools

import (
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint"
	_ "golang.org/x/vuln/cmd/govulncheck"
	_ "honnef.co/go/tools/cmd/staticcheck"
	_ "mvdan.cc/gofumpt"
)
