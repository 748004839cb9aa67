package email

import (
	"fmt"
	"log"
	"net/smtp"

	"aula-backend/config"
)

// Mailer envía correos vía SMTP con la configuración inyectada.
type Mailer struct {
	host string
	port string
	user string
	pass string
	from string
}

func NewMailer(cfg *config.Config) *Mailer {
	return &Mailer{host: cfg.SMTPHost, port: cfg.SMTPPort, user: cfg.SMTPUser, pass: cfg.SMTPPass, from: cfg.SMTPFrom}
}

func (m *Mailer) send(to, subject, body string) error {
	if m.host == "" || m.port == "" || m.user == "" || m.pass == "" || m.from == "" {
		return fmt.Errorf("SMTP configuration missing")
	}
	addr := fmt.Sprintf("%s:%s", m.host, m.port)
	auth := smtp.PlainAuth("", m.user, m.pass, m.host)
	msg := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", m.from, to, subject, body))
	return smtp.SendMail(addr, auth, m.from, []string{to}, msg)
}

// SendAsync envía en una goroutine propia: un fallo del sink de correo
// nunca bloquea ni revierte la transacción que lo originó.
func (m *Mailer) SendAsync(to, subject, body string) {
	go func() {
		if err := m.send(to, subject, body); err != nil {
			log.Printf("[EMAIL] fallo enviando a %s: %v", to, err)
			return
		}
		log.Printf("[EMAIL] enviado a %s: %s", to, subject)
	}()
}

// SendWelcome se envía tras la primera verificación de correo.
func (m *Mailer) SendWelcome(to string) {
	m.SendAsync(to, "Bienvenido a Aula", "Tu correo quedó verificado y tu periodo de prueba de 30 días ya está activo. ¡Bienvenido!")
}

// SendVerification envía el enlace de verificación de correo.
func (m *Mailer) SendVerification(to, verifyLink string) {
	body := fmt.Sprintf(`Hola,

Confirma tu correo haciendo clic en el siguiente enlace:
%s

Al verificarlo activaremos tu periodo de prueba de 30 días.

Saludos,
Equipo Aula`, verifyLink)
	m.SendAsync(to, "Verifica tu correo - Aula", body)
}

// SendReferralReward notifica al referidor que ganó un mes extra.
func (m *Mailer) SendReferralReward(to string, referrals int) {
	body := fmt.Sprintf("¡Felicidades! Ya tienes %d referidos con suscripción activa. Hemos extendido tu suscripción un mes.", referrals)
	m.SendAsync(to, "Has ganado un mes gratis", body)
}

// SendTrialReminder avisa que la prueba termina en los días indicados.
func (m *Mailer) SendTrialReminder(to string, days int) {
	body := fmt.Sprintf("Tu periodo de prueba termina en %d día(s). Suscríbete para no perder acceso.", days)
	m.SendAsync(to, "Tu prueba está por terminar", body)
}
