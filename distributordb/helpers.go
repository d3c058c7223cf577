package distributordb

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/BurntSushi/toml"
	_ "github.com/lib/pq" // this comment here because of linter: a blank import should be only in a main or test package, or have a comment justifying it (golint)
)

// postgresConfig is read from the toml file named by the db config flag.
type postgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	DBName   string `toml:"dbname"`
	SSLMode  string `toml:"sslmode"`
}

func (cfg postgresConfig) connString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.DBName,
		cfg.SSLMode,
	)
}

func OpenPostgres(configPath string) (*sql.DB, error) {
	var cfg postgresConfig
	if _, err := toml.DecodeFile(configPath, &cfg); err != nil {
		return nil, err
	}
	return sql.Open("postgres", cfg.connString())
}

// OpenPostgresWithRetries blocks until the database answers a ping.
func OpenPostgresWithRetries(configPath string) *sql.DB {
	interval := time.Second * 5
	for {
		db, err := OpenPostgres(configPath)
		if err == nil {
			err := db.Ping()
			if err == nil {
				return db
			}
			log.Printf("Failed to ping Postgres: %v\n", err)
		} else {
			log.Printf("Failed to open postgres: %v\n", err)
		}
		time.Sleep(interval)
	}
}
