package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/stemsi/testengine/internal/config"
	"github.com/stemsi/testengine/internal/database"
	"github.com/stemsi/testengine/internal/logger"
	"github.com/stemsi/testengine/internal/model"
	"github.com/stemsi/testengine/internal/repository"
	"github.com/stemsi/testengine/internal/service"
)

func main() {
	var (
		title       string
		level       string
		perSection  int
		duration    int
		printTokens bool
		studentID   int
	)
	flag.StringVar(&title, "title", "Mental Arithmetic Drill", "Test title")
	flag.StringVar(&level, "level", "beginner", "Test level")
	flag.IntVar(&perSection, "questions", 5, "Questions per section")
	flag.IntVar(&duration, "duration", 10, "Duration in minutes")
	flag.BoolVar(&printTokens, "tokens", false, "Print development tokens for a student and a staff user")
	flag.IntVar(&studentID, "student", 1, "Student ID for the printed development token")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	store := repository.NewPostgresStore(pool)

	fmt.Printf("=== Seeding test %q ===\n", title)

	test := &model.Test{
		Title:           title,
		Level:           level,
		DurationMinutes: duration,
		IsActive:        true,
	}

	order := 1
	kinds := []model.QuestionType{model.QuestionTypePlus, model.QuestionTypeMultiply, model.QuestionTypeDivide}
	for i, kind := range kinds {
		sec := model.Section{SectionType: strings.ToLower(string(kind)), Order: i + 1}
		for range perSection {
			sec.Questions = append(sec.Questions, model.Question{
				Text:  operands(kind),
				Order: order,
				Marks: 1,
				Type:  kind,
			})
			order++
		}
		test.Sections = append(test.Sections, sec)
	}

	if err := store.CreateTest(ctx, test); err != nil {
		log.Fatal().Err(err).Msg("Failed to create test")
	}
	fmt.Printf("Created test %s with %d questions\n", test.ID, order-1)

	if !printTokens {
		return
	}

	tokens := service.NewTokenService(cfg.JWTSecret)
	student, err := tokens.Issue(studentID, service.RoleStudent, 24*time.Hour)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue student token")
	}
	staff, err := tokens.Issue(1, service.RoleStaff, 24*time.Hour)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue staff token")
	}
	fmt.Printf("\nStudent %d token:\n%s\n\nStaff token:\n%s\n", studentID, student, staff)
}

// operands renders a random operand list in the stored question format.
func operands(kind model.QuestionType) string {
	switch kind {
	case model.QuestionTypeDivide:
		return fmt.Sprintf("[%d, %d]", rand.IntN(90)+10, rand.IntN(9)+1)
	case model.QuestionTypeMultiply:
		return fmt.Sprintf("[%d, %d]", rand.IntN(12)+1, rand.IntN(12)+1)
	default:
		n := rand.IntN(3) + 2
		parts := make([]string, n)
		for i := range parts {
			parts[i] = fmt.Sprint(rand.IntN(50) + 1)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
}
