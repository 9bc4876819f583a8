// Package all registra todos los adapters de storage vía blank imports.
package all

import (
	_ "github.com/dropDatabas3/journal-auth/internal/store/adapters/fs"
	_ "github.com/dropDatabas3/journal-auth/internal/store/adapters/memory"
	_ "github.com/dropDatabas3/journal-auth/internal/store/adapters/mongo"
	_ "github.com/dropDatabas3/journal-auth/internal/store/adapters/pg"
	_ "github.com/dropDatabas3/journal-auth/internal/store/adapters/redis"
	_ "github.com/dropDatabas3/journal-auth/internal/store/adapters/sqlite"
	_ "github.com/dropDatabas3/journal-auth/internal/store/adapters/vault"
)
