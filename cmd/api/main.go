package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"campus/internal/attendance"
	"campus/internal/auth"
	"campus/internal/cloudinary"
	"campus/internal/config"
	"campus/internal/httpmiddleware"
	"campus/internal/queue"
	"campus/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	if err := runHTTP(cfg); err != nil {
		logrus.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
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
	pipeline := attendance.Pipeline{
		MaxAccuracyMeters:     cfg.MaxAccuracyMeters,
		ExtremeDistanceMeters: cfg.ExtremeDistanceMeters,
	}
	att := attendance.NewService(repo, pipeline, attendance.NewClock())

	// Cloudinary client (nil when not configured)
	var cdnClient *cloudinary.Client
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		cdnClient = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		logrus.WithField("cloud", cfg.CloudinaryCloudName).Info("cloudinary configured")
	} else {
		logrus.Info("cloudinary not configured, photo uploads disabled")
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	// Token issuance belongs to the campus auth service; this endpoint exists
	// only outside production so the API can be exercised standalone.
	if cfg.Env != "production" && cfg.Env != "prod" {
		r.POST("/v1/auth/dev-token", func(c *gin.Context) {
			var req struct {
				StudentID string `json:"student_id" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			token, exp, err := auth.Issue(req.StudentID, "student", cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
				return
			}
			c.JSON(http.StatusCreated, gin.H{"access_token": token, "expires_at": exp.Unix()})
		})
	}

	authGroup := r.Group("/v1", auth.StudentAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	// Upload endpoint — uploads a base64 image or multipart file to Cloudinary.
	// Returns the public URL the client then submits as photo evidence.
	authGroup.POST("/upload", func(c *gin.Context) {
		if cdnClient == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image storage not configured"})
			return
		}

		var result *cloudinary.UploadResult
		var err error

		switch {
		case strings.Contains(c.ContentType(), "multipart/form-data"):
			file, header, ferr := c.Request.FormFile("file")
			if ferr != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
				return
			}
			defer file.Close()
			data, ferr := io.ReadAll(file)
			if ferr != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "read file failed"})
				return
			}
			result, err = cdnClient.UploadBytes(data, header.Filename)

		default:
			var body struct {
				Data string `json:"data" binding:"required"`
			}
			if berr := c.ShouldBindJSON(&body); berr != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "provide {\"data\": \"<base64 data URL>\"}"})
				return
			}
			result, err = cdnClient.UploadBase64(body.Data)
		}

		if err != nil {
			logrus.WithError(err).Warn("cloudinary upload failed")
			c.JSON(http.StatusBadGateway, gin.H{"error": "image upload failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"url":       result.SecureURL,
			"public_id": result.PublicID,
			"bytes":     result.Bytes,
		})
	})

	authGroup.POST("/attendance", func(c *gin.Context) {
		var req struct {
			InternshipID string   `json:"internship_id" binding:"required"`
			Latitude     *float64 `json:"latitude" binding:"required"`
			Longitude    *float64 `json:"longitude" binding:"required"`
			AccuracyM    *float64 `json:"accuracy_m" binding:"required"`
			PhotoURL     string   `json:"photo_url"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "coordinates and accuracy required"})
			return
		}

		sample := attendance.Sample{
			Latitude:       *req.Latitude,
			Longitude:      *req.Longitude,
			AccuracyMeters: *req.AccuracyM,
			HasPhoto:       req.PhotoURL != "",
		}
		res, err := att.Mark(c.Request.Context(), auth.StudentID(c), req.InternshipID, sample, c.ClientIP(), req.PhotoURL)
		if err != nil {
			writeMarkError(c, err)
			return
		}

		// Flagged and rejected records are picked up by the notification worker.
		if res.Record.Suspicious {
			if err := q.Publish(c.Request.Context(), queue.Message{Type: "attendance_flagged", RecordID: res.Record.ID}); err != nil {
				logrus.WithError(err).Warn("queue publish failed")
			}
		}

		c.JSON(http.StatusOK, gin.H{"type": res.Type, "record": res.Record})
	})

	authGroup.GET("/attendance/today", func(c *gin.Context) {
		status, rec, err := att.TodayStatus(c.Request.Context(), auth.StudentID(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "status lookup failed"})
			return
		}
		resp := gin.H{"status": status}
		if rec != nil {
			resp["record"] = rec
		}
		c.JSON(http.StatusOK, resp)
	})

	authGroup.GET("/attendance/history", func(c *gin.Context) {
		limit, offset := 50, 0
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		if v := c.Query("offset"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				offset = parsed
			}
		}
		records, err := repo.ListRecords(c.Request.Context(), auth.StudentID(c), limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "history lookup failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	})

	authGroup.GET("/internships/current", func(c *gin.Context) {
		asg, err := att.CurrentAssignment(c.Request.Context(), auth.StudentID(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "assignment lookup failed"})
			return
		}
		if asg == nil {
			c.JSON(http.StatusOK, gin.H{"assignment": nil})
			return
		}
		c.JSON(http.StatusOK, gin.H{"assignment": asg})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.WithField("port", cfg.HTTPPort).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("server forced shutdown")
	}

	logrus.Info("server exited")
	return nil
}

// writeMarkError maps service errors to HTTP responses. Soft gate failures
// carry the requires_photo hint so the client can retry with evidence.
func writeMarkError(c *gin.Context, err error) {
	if ge, ok := attendance.AsGateError(err); ok {
		status := http.StatusUnprocessableEntity
		if ge.Kind == attendance.KindAlreadyCompleted || ge.Kind == attendance.KindDayRejected {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{
			"error":          ge.Message,
			"code":           ge.Kind,
			"requires_photo": ge.RequiresPhoto,
		})
		return
	}
	if errors.Is(err, attendance.ErrLocationNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "internship location not found"})
		return
	}
	logrus.WithError(err).Error("attendance mark failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
