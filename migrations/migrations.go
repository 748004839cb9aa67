package migrations

import (
	"database/sql"
	"fmt"
	"time"
)

type User struct {
	ID              int       `db:"id"`
	FirstName       string    `db:"first_name"`
	LastName        string    `db:"last_name"`
	Email           string    `db:"email"`
	Password        string    `db:"password"`
	Role            string    `db:"role"`
	ReferralCode    string    `db:"referral_code"`
	IsPermanentFree bool      `db:"is_permanent_free"`
	EmailVerified   bool      `db:"email_verified"`
	RewardsGranted  int       `db:"rewards_granted"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

var db *sql.DB

// Init sets the DB connection for migrations and queries
func Init(database *sql.DB) {
	db = database
}

// Migrate creates required tables if they do not exist
func Migrate() error {
	if db == nil {
		return fmt.Errorf("db is not initialized")
	}
	createUsers := `
	CREATE TABLE IF NOT EXISTS users (
		id INT AUTO_INCREMENT PRIMARY KEY,
		first_name VARCHAR(100) NOT NULL,
		last_name VARCHAR(100) NOT NULL,
		email VARCHAR(191) NOT NULL UNIQUE,
		password VARCHAR(191) NOT NULL,
		role VARCHAR(50) NOT NULL DEFAULT 'student',
		referral_code VARCHAR(20) NOT NULL UNIQUE,
		is_permanent_free TINYINT(1) NOT NULL DEFAULT 0,
		email_verified TINYINT(1) NOT NULL DEFAULT 0,
		rewards_granted INT NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createUsers); err != nil {
		return err
	}

	createPlans := `
	CREATE TABLE IF NOT EXISTS subscription_plans (
		id INT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(100) NOT NULL,
		currency VARCHAR(10) NOT NULL DEFAULT 'USD',
		price DECIMAL(10,2) NOT NULL DEFAULT 0.00,
		billing VARCHAR(50) NOT NULL DEFAULT 'Mensual',
		stripe_product_id VARCHAR(100) NOT NULL DEFAULT '',
		stripe_price_id VARCHAR(100) NOT NULL DEFAULT ''
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createPlans); err != nil {
		return err
	}

	// plan_id NULL = trial de sistema (30 días tras verificar el correo),
	// no un plan real.
	createSubs := `
	CREATE TABLE IF NOT EXISTS subscriptions (
		id INT AUTO_INCREMENT PRIMARY KEY,
		user_id INT NOT NULL,
		plan_id INT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'trialing',
		current_period_start DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		current_period_end DATETIME NULL,
		payment_provider VARCHAR(50) NOT NULL DEFAULT '',
		invoice_id VARCHAR(100) NOT NULL DEFAULT '',
		event_time DATETIME NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		KEY idx_subscriptions_user (user_id),
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY (plan_id) REFERENCES subscription_plans(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createSubs); err != nil {
		return err
	}

	// Un usuario solo puede ser referido una vez (UNIQUE en referred_user_id).
	createReferrals := `
	CREATE TABLE IF NOT EXISTS referrals (
		id INT AUTO_INCREMENT PRIMARY KEY,
		referrer_user_id INT NOT NULL,
		referred_user_id INT NOT NULL UNIQUE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (referrer_user_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY (referred_user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createReferrals); err != nil {
		return err
	}

	createNotifications := `
	CREATE TABLE IF NOT EXISTS notifications (
		id INT AUTO_INCREMENT PRIMARY KEY,
		user_id INT NOT NULL,
		title VARCHAR(191) NOT NULL,
		message TEXT NOT NULL,
		type VARCHAR(50) NOT NULL DEFAULT 'general',
		` + "`read`" + ` TINYINT(1) NOT NULL DEFAULT 0,
		sent_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		KEY idx_notifications_user (user_id),
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createNotifications); err != nil {
		return err
	}

	// stripe_session_id UNIQUE: clave natural contra webhooks redelivered.
	createClasses := `
	CREATE TABLE IF NOT EXISTS classes (
		id INT AUTO_INCREMENT PRIMARY KEY,
		owner_user_id INT NOT NULL,
		name VARCHAR(191) NOT NULL,
		join_code VARCHAR(20) NOT NULL UNIQUE,
		stripe_session_id VARCHAR(100) NOT NULL UNIQUE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (owner_user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createClasses); err != nil {
		return err
	}

	createHelp := `
	CREATE TABLE IF NOT EXISTS help_articles (
		id INT AUTO_INCREMENT PRIMARY KEY,
		title VARCHAR(191) NOT NULL,
		body TEXT NOT NULL,
		category VARCHAR(100) NOT NULL DEFAULT 'general',
		published TINYINT(1) NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createHelp); err != nil {
		return err
	}
	return nil
}

// SeedDefaultPlans inserts some default plans if none exist
func SeedDefaultPlans() error {
	if db == nil {
		return fmt.Errorf("db is not initialized")
	}
	var count int
	if err := db.QueryRow("SELECT COUNT(1) FROM subscription_plans").Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		if _, err := db.Exec(`INSERT INTO subscription_plans (name, currency, price, billing) VALUES ('Mensual','USD',9.99,'Mensual')`); err != nil {
			return err
		}
		if _, err := db.Exec(`INSERT INTO subscription_plans (name, currency, price, billing) VALUES ('Anual','USD',99.99,'Anual')`); err != nil {
			return err
		}
	}
	return nil
}

const userColumns = "id, first_name, last_name, email, password, role, referral_code, is_permanent_free, email_verified, rewards_granted, created_at, updated_at"

func scanUser(row *sql.Row) *User {
	var u User
	if err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Password, &u.Role, &u.ReferralCode, &u.IsPermanentFree, &u.EmailVerified, &u.RewardsGranted, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil
	}
	return &u
}

// GetUserByEmail retrieves a user from DB by email
func GetUserByEmail(email string) *User {
	if db == nil {
		return nil
	}
	return scanUser(db.QueryRow("SELECT "+userColumns+" FROM users WHERE email = ? LIMIT 1", email))
}

// GetUserByID retrieves a user by its ID
func GetUserByID(id int) *User {
	if db == nil {
		return nil
	}
	return scanUser(db.QueryRow("SELECT "+userColumns+" FROM users WHERE id = ? LIMIT 1", id))
}

// GetUserByReferralCode retrieves a user by its referral code
func GetUserByReferralCode(code string) *User {
	if db == nil {
		return nil
	}
	return scanUser(db.QueryRow("SELECT "+userColumns+" FROM users WHERE referral_code = ? LIMIT 1", code))
}

// CreateUser inserts a new user record and returns its id.
// referral_code es inmutable una vez asignado; nunca se actualiza.
func CreateUser(firstName, lastName, email, password, role, referralCode string) (int, error) {
	if db == nil {
		return 0, fmt.Errorf("db is not initialized")
	}
	res, err := db.Exec(
		"INSERT INTO users (first_name, last_name, email, password, role, referral_code) VALUES (?, ?, ?, ?, ?, ?)",
		firstName, lastName, email, password, role, referralCode,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return int(id), nil
}

// EmailExists checks if a user with the given email exists
func EmailExists(email string) (bool, error) {
	if db == nil {
		return false, fmt.Errorf("db is not initialized")
	}
	var count int
	if err := db.QueryRow("SELECT COUNT(1) FROM users WHERE email = ?", email).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// MarkEmailVerified sets email_verified for the given user id
func MarkEmailVerified(id int) error {
	if db == nil {
		return fmt.Errorf("db is not initialized")
	}
	_, err := db.Exec("UPDATE users SET email_verified = 1, updated_at = NOW() WHERE id = ?", id)
	return err
}

// UpdateUserProfile updates first/last name
func UpdateUserProfile(id int, firstName, lastName string) error {
	if db == nil {
		return fmt.Errorf("db is not initialized")
	}
	cur := GetUserByID(id)
	if cur == nil {
		return fmt.Errorf("user not found")
	}
	if firstName == "" {
		firstName = cur.FirstName
	}
	if lastName == "" {
		lastName = cur.LastName
	}
	_, err := db.Exec("UPDATE users SET first_name = ?, last_name = ?, updated_at = NOW() WHERE id = ?", firstName, lastName, id)
	return err
}

// UpdateUserPassword updates the password for the given user id
func UpdateUserPassword(id int, password string) error {
	if db == nil {
		return fmt.Errorf("db is not initialized")
	}
	_, err := db.Exec("UPDATE users SET password = ?, updated_at = NOW() WHERE id = ?", password, id)
	return err
}

// DeleteUser removes a user; referrals y subscriptions caen en cascada.
func DeleteUser(id int) error {
	if db == nil {
		return fmt.Errorf("db is not initialized")
	}
	_, err := db.Exec("DELETE FROM users WHERE id = ?", id)
	return err
}
