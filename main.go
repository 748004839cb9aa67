package main

import (
	"log"

	"github.com/gin-gonic/gin"

	"aula-backend/classes"
	"aula-backend/config"
	"aula-backend/conn"
	"aula-backend/email"
	"aula-backend/entitlement"
	"aula-backend/help"
	"aula-backend/login"
	"aula-backend/migrations"
	"aula-backend/notifications"
	"aula-backend/profile"
	"aula-backend/referrals"
	"aula-backend/reminders"
	"aula-backend/subscriptions"
)

func main() {
	cfg := config.Load()

	db, err := conn.NewMySQL(cfg)
	if err != nil {
		log.Fatalf("[MAIN] no se pudo conectar a MySQL: %v", err)
	}
	migrations.Init(db)
	if err := migrations.Migrate(); err != nil {
		log.Fatalf("[MAIN] migraciones fallidas: %v", err)
	}
	if err := migrations.SeedDefaultPlans(); err != nil {
		log.Printf("[MAIN] seed de planes fallido: %v", err)
	}

	mailer := email.NewMailer(cfg)
	subsRepo := subscriptions.NewRepository(db)
	refRepo := referrals.NewRepository(db)
	notifRepo := notifications.NewRepository(db)
	classRepo := classes.NewRepository(db)
	helpRepo := help.NewRepository(db)

	login.Init(cfg, mailer, subsRepo)
	login.RegisterReferralLinker(func(code string, newUserID int) {
		referrer := migrations.GetUserByReferralCode(code)
		if referrer == nil {
			log.Printf("[MAIN] referralCode desconocido en registro: %s", code)
			return
		}
		if err := refRepo.Create(referrer.ID, newUserID); err != nil {
			log.Printf("[MAIN] referral no registrado para user=%d: %v", newUserID, err)
		}
	})

	stripeSvc := subscriptions.NewService(cfg, db, subsRepo, mailer)
	if stripeSvc == nil {
		log.Printf("[MAIN] Stripe no configurado; checkout y webhook deshabilitados")
	}

	entitlement.RegisterUserResolver(func(email string) *entitlement.UserLite {
		u := migrations.GetUserByEmail(email)
		if u == nil {
			return nil
		}
		return &entitlement.UserLite{ID: u.ID, Email: u.Email, IsPermanentFree: u.IsPermanentFree}
	})
	validator := entitlement.NewValidator(subsRepo)

	r := gin.Default()
	r.Use(login.TokenExpiryHeader())

	r.POST("/login", login.Handler)
	r.POST("/register", login.RegisterHandler)
	r.GET("/verify-email", login.VerifyEmailHandler)
	r.GET("/session", login.SessionHandler)
	r.POST("/logout", login.LogoutHandler)
	r.POST("/refresh", login.RefreshHandler)
	r.POST("/change-password", login.ChangePasswordHandler)

	subscriptions.NewHandler(subsRepo, stripeSvc).RegisterRoutes(r)
	referrals.NewHandler(refRepo, cfg.AppBaseURL).RegisterRoutes(r)
	notifications.NewHandler(notifRepo).RegisterRoutes(r)
	classes.NewHandler(classRepo).RegisterRoutes(r)
	help.NewHandler(helpRepo).RegisterRoutes(r)
	profile.NewHandler(subsRepo, refRepo, notifRepo).RegisterRoutes(r)

	// Contenido premium de ejemplo protegido por entitlement.
	r.GET("/premium/ping", validator.Middleware(), func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	reminders.NewService(db, notifRepo, mailer, cfg.ReminderHour).Start()

	if err := r.Run(":8080"); err != nil {
		log.Fatalf("[MAIN] servidor detenido: %v", err)
	}
}
