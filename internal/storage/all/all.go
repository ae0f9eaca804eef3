// Package all registers every storage backend with the factory registry.
// The config selects which one to use, but the binary builds in support for
// all of them.
package all

import (
	_ "playmart/internal/storage/mssql"
	_ "playmart/internal/storage/postgres"
	_ "playmart/internal/storage/sqlite"
)
