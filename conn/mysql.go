package conn

import (
	"database/sql"

	_ "github.com/go-sql-driver/mysql"

	"aula-backend/config"
)

// NewMySQL abre una nueva conexión a MySQL utilizando la configuración
// inyectada. Crea la base de datos si todavía no existe.
func NewMySQL(cfg *config.Config) (*sql.DB, error) {
	adminDB, err := sql.Open("mysql", cfg.AdminDSN())
	if err != nil {
		return nil, err
	}
	if err := adminDB.Ping(); err != nil {
		adminDB.Close()
		return nil, err
	}
	if _, err := adminDB.Exec("CREATE DATABASE IF NOT EXISTS `" + cfg.DBName + "` DEFAULT CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci"); err != nil {
		adminDB.Close()
		return nil, err
	}
	adminDB.Close()

	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return db, nil
}
