package reminders

import (
	"database/sql"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"aula-backend/email"
	"aula-backend/notifications"
)

// Service gestiona los recordatorios de fin de prueba: una pasada diaria a
// hora fija que avisa a quienes les quedan exactamente 7 días o 1 día de
// trial. Un recordatorio perdido no se reintenta; es degradación aceptada.
type Service struct {
	db      *sql.DB
	notifs  *notifications.Repository
	mailer  *email.Mailer
	hour    int
	running atomic.Bool
}

// NewService crea el servicio; hour es la hora local (0-23) de la pasada diaria.
func NewService(db *sql.DB, notifs *notifications.Repository, mailer *email.Mailer, hour int) *Service {
	return &Service{db: db, notifs: notifs, mailer: mailer, hour: hour}
}

// Start lanza el bucle diario en su propia goroutine.
func (s *Service) Start() {
	go func() {
		for {
			time.Sleep(untilNextRun(time.Now(), s.hour))
			if err := s.Run(); err != nil {
				log.Printf("[REMINDERS] pasada fallida: %v", err)
			}
		}
	}()
}

// untilNextRun devuelve cuánto falta para la próxima ocurrencia de la hora
// configurada.
func untilNextRun(now time.Time, hour int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}

// Run ejecuta una pasada completa. No debe solaparse consigo misma: si la
// anterior sigue corriendo, esta se salta.
func (s *Service) Run() error {
	if !s.running.CompareAndSwap(false, true) {
		log.Printf("[REMINDERS] pasada anterior en curso, se omite")
		return nil
	}
	defer s.running.Store(false)
	return s.scanTrials(time.Now())
}

// reminderDays devuelve 7 o 1 cuando el trial termina exactamente a esos
// días vista (comparación por fecha, no por hora), y 0 en caso contrario.
func reminderDays(periodEnd, today time.Time) int {
	endDate := time.Date(periodEnd.Year(), periodEnd.Month(), periodEnd.Day(), 0, 0, 0, 0, time.UTC)
	todayDate := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	days := int(endDate.Sub(todayDate).Hours() / 24)
	if days == 7 || days == 1 {
		return days
	}
	return 0
}

func (s *Service) scanTrials(now time.Time) error {
	rows, err := s.db.Query(`SELECT s.user_id, s.current_period_end, u.email, u.first_name
		FROM subscriptions s JOIN users u ON u.id = s.user_id
		WHERE s.status = 'trialing' AND s.current_period_end IS NOT NULL
		  AND DATE(s.current_period_end) IN (DATE(? + INTERVAL 7 DAY), DATE(? + INTERVAL 1 DAY))`, now, now)
	if err != nil {
		return err
	}
	defer rows.Close()

	sent := 0
	for rows.Next() {
		var userID int
		var end time.Time
		var mail, firstName string
		if err := rows.Scan(&userID, &end, &mail, &firstName); err != nil {
			return err
		}
		// El fallo de un usuario no aborta el resto de la pasada.
		if err := s.remindUser(userID, mail, end, now); err != nil {
			log.Printf("[REMINDERS] fallo recordando a user=%d: %v", userID, err)
			continue
		}
		sent++
	}
	log.Printf("[REMINDERS] pasada completada, %d recordatorio(s)", sent)
	return rows.Err()
}

func (s *Service) remindUser(userID int, mail string, periodEnd, now time.Time) error {
	days := reminderDays(periodEnd, now)
	if days == 0 {
		return nil
	}
	msg := fmt.Sprintf("Tu periodo de prueba termina en %d día(s), el %s. Suscríbete para no perder acceso.", days, periodEnd.Format("2006-01-02"))
	if err := s.notifs.Insert(userID, "Tu prueba está por terminar", msg, "trial_reminder"); err != nil {
		return err
	}
	if s.mailer != nil {
		s.mailer.SendTrialReminder(mail, days)
	}
	return nil
}
