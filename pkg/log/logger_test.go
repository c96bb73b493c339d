package log_test

import (
	"testing"

	"github.com/astrophotograph/scopinator/pkg/log"
)

func TestNoopLoggerSatisfiesInterface(t *testing.T) {
	var _ log.Logger = log.NoopLogger{}
}
