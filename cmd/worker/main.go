package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"campus/internal/attendance"
	"campus/internal/config"
	"campus/internal/notifyclient"
	"campus/internal/queue"
	"campus/internal/store"
)

// Worker consumes flagged-attendance messages, alerts the notification
// service, and stamps records as notified.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logrus.Info("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		logrus.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "campus:attendance:flags")
	}

	repo := attendance.NewRepository(db.Client)
	notify := notifyclient.New(cfg.NotifyServiceURL, cfg.NotifySkip)

	if !cfg.NotifySkip {
		if err := notify.Health(ctx); err != nil {
			logrus.WithError(err).Warn("notify service not available, will retry per message")
		} else {
			logrus.Info("notify service connected")
		}
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		logrus.Fatalf("queue consume init failed: %v", err)
	}

	logrus.Info("worker started, waiting for messages")
	for msg := range messages {
		if msg.Type != "attendance_flagged" {
			continue
		}

		rec, err := repo.RecordByID(ctx, msg.RecordID)
		if err != nil {
			logrus.WithError(err).WithField("record", msg.RecordID).Warn("fetch record failed")
			continue
		}
		if rec == nil || rec.NotifiedAt != nil {
			continue
		}

		reason := ""
		if rec.SuspiciousReason != nil {
			reason = *rec.SuspiciousReason
		}
		alert := notifyclient.Alert{
			StudentID:    rec.StudentID,
			InternshipID: rec.InternshipID,
			RecordID:     rec.ID,
			Status:       string(rec.Status),
			Reason:       reason,
			Date:         rec.Date.Format("2006-01-02"),
		}
		if err := notify.SendAttendanceAlert(ctx, alert); err != nil {
			logrus.WithError(err).WithField("record", rec.ID).Warn("alert send failed")
			continue
		}

		if err := repo.MarkNotified(ctx, rec.ID, time.Now().UTC()); err != nil {
			logrus.WithError(err).WithField("record", rec.ID).Warn("mark notified failed")
		}
		logrus.WithFields(logrus.Fields{"record": rec.ID, "status": rec.Status}).Info("alert sent")
	}

	logrus.Info("worker stopped")
}
