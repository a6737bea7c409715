// Command seed populates a development database with one user per role and a
// demo course so the enrollment and certificate flows can be exercised
// end to end.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/codetribe/bootcamp-api/internal/models"
	"github.com/codetribe/bootcamp-api/internal/repository"
	"github.com/codetribe/bootcamp-api/pkg/config"
	"github.com/codetribe/bootcamp-api/pkg/database"
)

type seedUser struct {
	Email    string
	FullName string
	Role     models.UserRole
	College  string
}

func main() {
	var password string
	flag.StringVar(&password, "password", "changeme123", "password assigned to every seeded user")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer db.Close() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	users := []seedUser{
		{Email: "student@example.com", FullName: "Sana Student", Role: models.RoleUser},
		{Email: "admin@example.com", FullName: "Arun Admin", Role: models.RoleAdmin},
		{Email: "college@example.com", FullName: "Chitra College", Role: models.RoleCollegeAdmin, College: "Horizon Engineering College"},
		{Email: "tpo@example.com", FullName: "Tarun Placement", Role: models.RoleTPO, College: "Horizon Engineering College"},
	}

	userRepo := repository.NewUserRepository(db)
	for _, u := range users {
		if existing, err := userRepo.FindByEmail(ctx, u.Email); err == nil && existing != nil {
			log.Printf("user %s already present, skipping", u.Email)
			continue
		}
		user := &models.User{
			Email:        u.Email,
			PasswordHash: string(hash),
			FullName:     u.FullName,
			Role:         u.Role,
			CollegeName:  u.College,
			Active:       true,
		}
		if err := userRepo.Create(ctx, user); err != nil {
			log.Fatalf("create user %s: %v", u.Email, err)
		}
		log.Printf("seeded user %s (%s)", u.Email, u.Role)
	}

	courseRepo := repository.NewCourseRepository(db)
	course := &models.Course{
		Title:       "Full-Stack Web Development Bootcamp",
		Slug:        "full-stack-web-dev",
		Description: "Twelve weeks from zero to deployed applications.",
		Published:   true,
	}
	modules := []models.CourseModule{
		{ModuleIndex: 0, Title: "Foundations", Topics: pq.StringArray{"HTML & CSS", "JavaScript Basics", "Git Workflow"}},
		{ModuleIndex: 1, Title: "Backend", Topics: pq.StringArray{"HTTP & REST", "Databases", "Authentication"}},
		{ModuleIndex: 2, Title: "Frontend", Topics: pq.StringArray{"Components", "State Management"}},
		{ModuleIndex: 3, Title: "Capstone", Topics: pq.StringArray{"Project Planning", "Deployment", "Demo Day"}},
	}
	if err := courseRepo.Create(ctx, course, modules); err != nil {
		log.Fatalf("create course: %v", err)
	}
	log.Printf("seeded course %s (%s)", course.Title, course.ID)
}
