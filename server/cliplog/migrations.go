package cliplog

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE clip(
			id INTEGER PRIMARY KEY,
			owner TEXT NOT NULL,
			start_at INT NOT NULL,
			end_at INT NOT NULL,
			created_at INT NOT NULL,
			num_chunks INT NOT NULL,
			size INT NOT NULL,
			mode TEXT NOT NULL,
			status TEXT NOT NULL,
			location TEXT,
			error TEXT
		);
		CREATE INDEX idx_clip_status ON clip (status);
	`))

	return migs
}
