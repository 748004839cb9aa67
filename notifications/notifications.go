package notifications

import (
	"database/sql"
	"time"
)

type Notification struct {
	ID      int       `json:"id"`
	UserID  int       `json:"user_id"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Type    string    `json:"type"`
	Read    bool      `json:"read"`
	SentAt  time.Time `json:"sent_at"`
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert crea una notificación para el usuario (fire-and-forget desde el
// punto de vista del motor).
func (r *Repository) Insert(userID int, title, message, ntype string) error {
	_, err := r.db.Exec("INSERT INTO notifications (user_id, title, message, type) VALUES (?,?,?,?)", userID, title, message, ntype)
	return err
}

func (r *Repository) ListByUser(userID int) ([]Notification, error) {
	rows, err := r.db.Query("SELECT id, user_id, title, message, type, `read`, sent_at FROM notifications WHERE user_id = ? ORDER BY sent_at DESC", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Notification{}
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Type, &n.Read, &n.SentAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *Repository) CountUnread(userID int) (int, error) {
	var n int
	err := r.db.QueryRow("SELECT COUNT(1) FROM notifications WHERE user_id = ? AND `read` = 0", userID).Scan(&n)
	return n, err
}

func (r *Repository) MarkRead(id, userID int) error {
	_, err := r.db.Exec("UPDATE notifications SET `read` = 1 WHERE id = ? AND user_id = ?", id, userID)
	return err
}
