// SPDX-License-Identifier: MPL-2.0

package sandbox

import (
	"io"
	"testing"

	"github.com/openwork/openwork/internal/config"
	"github.com/openwork/openwork/internal/logging"
)

func testLog(t *testing.T) *logging.Logger {
	t.Helper()
	return logging.New(logging.Options{
		Format: config.LogJSON,
		Color:  config.ColorNever,
		RunID:  "test-run",
		Out:    io.Discard,
	})
}
