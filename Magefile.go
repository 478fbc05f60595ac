//go:build mage
// +build mage

package main

import (
	"github.com/magefile/mage/sh"
)

// Build compiles the module for the host platform. There is no Grafana
// plugin manifest to produce anymore: this is a plain Go binary/library
// build, not a plugin build.
func Build() error {
	return sh.RunV("go", "build", "./...")
}

// Test runs the full test suite with the race detector enabled.
func Test() error {
	return sh.RunV("go", "test", "-race", "./...")
}

// Vet runs go vet across the module.
func Vet() error {
	return sh.RunV("go", "vet", "./...")
}

// Default configures the default target.
var Default = Build
