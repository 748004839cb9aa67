package help

import (
	"database/sql"
	"time"
)

type Article struct {
	ID        int       `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Category  string    `json:"category"`
	Published bool      `json:"published"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository { return &Repository{db: db} }

func (r *Repository) All() ([]Article, error) {
	rows, err := r.db.Query(`SELECT id, title, body, category, published, created_at, updated_at FROM help_articles WHERE published = 1 ORDER BY category ASC, title ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := make([]Article, 0)
	for rows.Next() {
		var a Article
		if err := rows.Scan(&a.ID, &a.Title, &a.Body, &a.Category, &a.Published, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

func (r *Repository) Get(id int) (*Article, error) {
	row := r.db.QueryRow(`SELECT id, title, body, category, published, created_at, updated_at FROM help_articles WHERE id = ? LIMIT 1`, id)
	var a Article
	if err := row.Scan(&a.ID, &a.Title, &a.Body, &a.Category, &a.Published, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (r *Repository) Create(a *Article) error {
	res, err := r.db.Exec(`INSERT INTO help_articles (title, body, category, published) VALUES (?,?,?,?)`,
		a.Title, a.Body, a.Category, a.Published)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = int(id)
	return nil
}

func (r *Repository) Update(id int, a *Article) error {
	_, err := r.db.Exec(`UPDATE help_articles SET title=?, body=?, category=?, published=? WHERE id=?`,
		a.Title, a.Body, a.Category, a.Published, id)
	return err
}

func (r *Repository) Delete(id int) error {
	_, err := r.db.Exec(`DELETE FROM help_articles WHERE id=?`, id)
	return err
}
