// Package testutil contains scripted backends and streams used across tests
// to drive the engine through every lifecycle path (success, failure, slow
// and cooperative backends, early close and abort). They are not intended
// for production usage.
package testutil
