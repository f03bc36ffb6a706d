package database

import (
	"database/sql"
)

type PgBotForgeRepository struct {
	conn *sql.DB
}

func NewPgBotForgeRepository(dsn string) (*PgBotForgeRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgBotForgeRepository{conn: db}, nil
}

func (db *PgBotForgeRepository) Ping() error {
	return db.conn.Ping()
}

func (db *PgBotForgeRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
