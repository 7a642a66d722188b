//go:build !darwin

// Package coreml provides a CoreML backend for GoMLX on macOS.
// This file is a no-op stub for non-darwin platforms.
package coreml

// On non-darwin platforms, this package is essentially a no-op.
// The backend is not registered and cannot be used.
