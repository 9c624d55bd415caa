package domain

import (
	"testing"

	"clinicdesk/testutil"
)

func TestDomainHasNoInternalImports(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.ImportsUnder("internal", "cmd"), "domain types are shared by every layer")
}
