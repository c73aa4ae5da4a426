// Command entity-admin inspects and seeds the stores behind the entity DAO:
// it installs the business tables, reads records by key, scans and searches
// tables and imports YAML fixtures.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
