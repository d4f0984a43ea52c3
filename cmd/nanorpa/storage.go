package main

import (
	"fmt"

	"github.com/micromdm/nanorpa/engine/storage"
	"github.com/micromdm/nanorpa/engine/storage/diskv"
	"github.com/micromdm/nanorpa/engine/storage/inmem"
	"github.com/micromdm/nanorpa/engine/storage/mysql"

	_ "github.com/go-sql-driver/mysql"
)

func parseStorage(name, dsn string) (storage.AllStorage, error) {
	switch name {
	case "inmem":
		return inmem.New(), nil
	case "file", "diskv":
		if dsn == "" {
			dsn = "db"
		}
		return diskv.New(dsn), nil
	case "mysql":
		return mysql.New(mysql.WithDSN(dsn))
	}
	return nil, fmt.Errorf("unknown storage: %s", name)
}
