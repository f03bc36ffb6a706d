package testutil

import (
	"log"
	"os"
	"testing"
)

// TestLogger returns a logger tagged with the running test's name so
// interleaved output stays attributable.
func TestLogger(t *testing.T) *log.Logger {
	return log.New(os.Stdout, "["+t.Name()+"] ", log.LstdFlags)
}
