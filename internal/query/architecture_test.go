package query

import (
	"testing"

	"clinicdesk/testutil"
)

func TestQueryDoesNotReachWritePath(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.ImportsUnder("internal/core", "internal/events", "internal/remote"), "read views only read the store")
}
