package cellmodel

import (
	"testing"

	"cellfit/testutil"
)

func TestPublicPackageAvoidsInternal(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden, "pkg/cellmodel is importable outside the module")
}
