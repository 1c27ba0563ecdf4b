package utils

import (
	"fmt"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	TestDBPrefix         = "testonlydb_"
	TestDBNameCharLength = 8
)

// CreateTempDB creates an isolated in-memory database for one test case and
// runs the full migration against it. The database lives as long as the
// returned connection and is dropped automatically on test cleanup, no manual
// teardown is needed.
//
// Production runs on postgres; tests run on sqlite so that the aggregation
// and playlist suites do not require a provisioned database server.
func CreateTempDB(t *testing.T) (*gorm.DB, string) {
	t.Helper()

	dbName := TestDBPrefix + RandomAlphabetString(TestDBNameCharLength)
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", dbName)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("cannot open temp DB %s: %v", dbName, err)
	}
	if err := DatabaseSetupAndMigration(db); err != nil {
		t.Fatalf("cannot migrate temp DB %s: %v", dbName, err)
	}

	t.Cleanup(func() {
		// Proactively close the connection instead of deferring to GC,
		// otherwise long test runs can exceed the open handle limit.
		conn, _ := db.DB()
		conn.Close()
	})

	return db, dbName
}
