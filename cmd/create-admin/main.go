package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/stemsi/exstem-examroom/internal/config"
	"github.com/stemsi/exstem-examroom/internal/database"
	"github.com/stemsi/exstem-examroom/internal/logger"
	"github.com/stemsi/exstem-examroom/internal/repository"
	"github.com/stemsi/exstem-examroom/internal/service"
)

const minPasswordLength = 8

func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	authService := service.NewAuthService(cfg, repository.NewAdminRepository(pool))

	reader := bufio.NewReader(os.Stdin)
	fmt.Println("=== Create Exam Room Admin ===")

	name := prompt(reader, "Enter Name: ")
	if name == "" {
		fmt.Println("Error: Name is required")
		os.Exit(1)
	}

	email := prompt(reader, "Enter Email: ")
	if email == "" || !strings.Contains(email, "@") {
		fmt.Println("Error: A valid email is required")
		os.Exit(1)
	}

	fmt.Print("Enter Password: ")
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fmt.Println("Error reading password")
		os.Exit(1)
	}
	password := string(raw)
	if len(password) < minPasswordLength {
		fmt.Printf("Error: Password must be at least %d characters\n", minPasswordLength)
		os.Exit(1)
	}

	fmt.Print("Confirm Password: ")
	confirm, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil || string(confirm) != password {
		fmt.Println("Error: Passwords do not match")
		os.Exit(1)
	}

	admin, err := authService.CreateAdmin(ctx, email, name, password)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create admin")
	}

	fmt.Printf("\nSuccess! Admin '%s' (%s) created with ID: %d\n", admin.Name, admin.Email, admin.ID)
}

func prompt(r *bufio.Reader, label string) string {
	fmt.Print(label)
	s, _ := r.ReadString('\n')
	return strings.TrimSpace(s)
}
