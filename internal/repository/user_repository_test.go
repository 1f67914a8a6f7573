package repository

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"marketplace/internal/database"
	"marketplace/internal/domain"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var testDB *sql.DB

func setupTestDB() (func(context.Context) error, error) {
	var (
		dbName = "testdb"
		dbPwd  = "password"
		dbUser = "user"
	)

	dbContainer, err := postgres.Run(
		context.Background(),
		"postgres:15",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPwd),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, err
	}

	connStr, err := dbContainer.ConnectionString(context.Background(), "sslmode=disable")
	if err != nil {
		return dbContainer.Terminate, err
	}

	testDB, err = sql.Open("pgx", connStr)
	if err != nil {
		return dbContainer.Terminate, err
	}

	if err := database.RunMigrations(context.Background(), testDB, "../../migrations", zap.NewNop()); err != nil {
		return dbContainer.Terminate, err
	}

	return dbContainer.Terminate, nil
}

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		log.Println("skipping postgres integration tests in short mode")
		os.Exit(0)
	}

	teardown, err := setupTestDB()
	if err != nil {
		log.Fatalf("could not start postgres container: %v", err)
	}

	code := m.Run()

	if teardown != nil {
		if err := teardown(context.Background()); err != nil {
			log.Fatalf("could not teardown postgres container: %v", err)
		}
	}

	os.Exit(code)
}

func newTestUser(email string) *domain.User {
	return &domain.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: "hash",
		FirstName:    "Test",
		LastName:     "User",
		Role:         domain.RoleUser,
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
		UpdatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
}

// Feature: marketplace, Property 20: Stored passwords are bcrypt hashes
func TestProperty_StoredPasswordsAreHashed(t *testing.T) {
	repo := NewUserRepository(testDB)
	ctx := context.Background()

	properties := gopter.NewProperties(nil)

	properties.Property("passwords are hashed with bcrypt and not stored as plaintext", prop.ForAll(
		func(email string, password string) bool {
			_, _ = testDB.Exec("DELETE FROM users WHERE email = $1", email)

			hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
			if err != nil {
				t.Logf("Failed to hash password: %v", err)
				return false
			}

			user := newTestUser(email)
			user.PasswordHash = string(hashedPassword)

			if err := repo.Create(ctx, user); err != nil {
				t.Logf("Failed to create user: %v", err)
				return false
			}

			retrievedUser, err := repo.FindByEmail(ctx, email)
			if err != nil {
				t.Logf("Failed to find user: %v", err)
				return false
			}

			if retrievedUser.PasswordHash == password {
				t.Logf("Password was stored as plaintext!")
				return false
			}

			if err := bcrypt.CompareHashAndPassword([]byte(retrievedUser.PasswordHash), []byte(password)); err != nil {
				t.Logf("Stored password is not a valid bcrypt hash: %v", err)
				return false
			}

			_, _ = testDB.Exec("DELETE FROM users WHERE email = $1", email)
			return true
		},
		gen.RegexMatch(`[a-z]{5,10}@[a-z]{3,8}\.(com|org|net)`),
		gen.RegexMatch(`[A-Za-z0-9!@#$%]{8,20}`),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestUserRepository_DuplicateEmail(t *testing.T) {
	repo := NewUserRepository(testDB)
	ctx := context.Background()

	email := "dup-" + uuid.NewString()[:8] + "@example.com"
	if err := repo.Create(ctx, newTestUser(email)); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	err := repo.Create(ctx, newTestUser(email))
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestUserRepository_FindByIDNotFound(t *testing.T) {
	repo := NewUserRepository(testDB)

	_, err := repo.FindByID(context.Background(), uuid.New())
	if !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUserRepository_FindByEmailIgnoresCase(t *testing.T) {
	repo := NewUserRepository(testDB)
	ctx := context.Background()

	email := "case-" + uuid.NewString()[:8] + "@example.com"
	user := newTestUser(email)
	if err := repo.Create(ctx, user); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	found, err := repo.FindByEmail(ctx, strings.ToUpper(email))
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if found.ID != user.ID {
		t.Fatalf("expected user %s, got %s", user.ID, found.ID)
	}
}

func TestRefreshTokenRepository_RevokeOnce(t *testing.T) {
	users := NewUserRepository(testDB)
	tokens := NewRefreshTokenRepository(testDB)
	ctx := context.Background()

	user := newTestUser("rt-" + uuid.NewString()[:8] + "@example.com")
	if err := users.Create(ctx, user); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	token := &domain.RefreshToken{
		ID:        uuid.New(),
		UserID:    user.ID,
		TokenHash: domain.HashRefreshToken(uuid.NewString()),
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}
	if err := tokens.Create(ctx, token); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := tokens.Revoke(ctx, token.TokenHash, now); err != nil {
		t.Fatalf("first Revoke: %v", err)
	}
	if err := tokens.Revoke(ctx, token.TokenHash, now); !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Fatalf("second Revoke: expected ErrRefreshTokenNotFound, got %v", err)
	}

	stored, err := tokens.FindByHash(ctx, token.TokenHash)
	if err != nil {
		t.Fatalf("FindByHash: %v", err)
	}
	if !stored.IsRevoked() {
		t.Fatal("expected the stored token to be revoked")
	}
}

func TestRefreshTokenRepository_RevokeAllForUser(t *testing.T) {
	users := NewUserRepository(testDB)
	tokens := NewRefreshTokenRepository(testDB)
	ctx := context.Background()

	user := newTestUser("family-" + uuid.NewString()[:8] + "@example.com")
	if err := users.Create(ctx, user); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		err := tokens.Create(ctx, &domain.RefreshToken{
			ID:        uuid.New(),
			UserID:    user.ID,
			TokenHash: domain.HashRefreshToken(uuid.NewString()),
			ExpiresAt: now.Add(time.Hour),
			CreatedAt: now,
		})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	n, err := tokens.RevokeAllForUser(ctx, user.ID, now)
	if err != nil {
		t.Fatalf("RevokeAllForUser: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 revoked tokens, got %d", n)
	}

	if n, _ := tokens.RevokeAllForUser(ctx, user.ID, now); n != 0 {
		t.Fatalf("expected nothing left to revoke, got %d", n)
	}
}

func TestRefreshTokenRepository_UnknownHash(t *testing.T) {
	tokens := NewRefreshTokenRepository(testDB)

	_, err := tokens.FindByHash(context.Background(), domain.HashRefreshToken("missing"))
	if !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Fatalf("expected ErrRefreshTokenNotFound, got %v", err)
	}
}
