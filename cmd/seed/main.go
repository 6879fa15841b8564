// seed fills a development database with a coordinator, a small roster
// of therapists with services and working hours, and a batch of
// clients.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/havenmind/therapy-booking/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}
	coordinatorPhone := os.Getenv("COORDINATOR_PHONE")
	if coordinatorPhone == "" {
		log.Fatal("COORDINATOR_PHONE is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedCoordinator(context.Background(), pool, coordinatorPhone); err != nil {
		log.Fatalf("seed coordinator: %v", err)
	}
	if err := seedTherapists(context.Background(), pool, 3); err != nil {
		log.Fatalf("seed therapists: %v", err)
	}
	if err := seedClients(context.Background(), pool, 25); err != nil {
		log.Fatalf("seed clients: %v", err)
	}

	log.Println("seed complete")
}

func seedCoordinator(ctx context.Context, pool *pgxpool.Pool, phone string) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO users (id, phone, name, role)
		VALUES ($1, $2, $3, 'coordinator')
		ON CONFLICT (phone) DO NOTHING
	`, uuid.New(), phone, "Coordinator")
	return err
}

func seedTherapists(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d therapists", count)

	services := []struct {
		name     string
		duration int
		kind     string
	}{
		{"45 Minute In-Call Session", 45, "in_call"},
		{"1 Hour In-Call Session", 60, "in_call"},
		{"90 Minute Out-Call Session", 90, "out_call"},
	}

	for i := 0; i < count; i++ {
		userID := uuid.New()
		therapistID := uuid.New()
		name := fmt.Sprintf("Dr. %s", gofakeit.FirstName())
		phone := gofakeit.Numerify("9745#######")

		if _, err := pool.Exec(ctx, `
			INSERT INTO users (id, phone, name, role)
			VALUES ($1, $2, $3, 'therapist')
		`, userID, phone, name); err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, `
			INSERT INTO therapists (id, user_id, name)
			VALUES ($1, $2, $3)
		`, therapistID, userID, name); err != nil {
			return err
		}

		for _, svc := range services {
			if _, err := pool.Exec(ctx, `
				INSERT INTO services (id, therapist_id, name, duration_minutes, kind)
				VALUES ($1, $2, $3, $4, $5)
			`, uuid.New(), therapistID, svc.name, svc.duration, svc.kind); err != nil {
				return err
			}
		}

		// Working days Sunday through Thursday, 09:00-18:00.
		for wd := time.Sunday; wd <= time.Thursday; wd++ {
			if _, err := pool.Exec(ctx, `
				INSERT INTO working_hours (id, therapist_id, day_of_week, start_time, end_time, is_available)
				VALUES ($1, $2, $3, '09:00', '18:00', true)
			`, uuid.New(), therapistID, int(wd)); err != nil {
				return err
			}
		}

		log.Printf("seeded therapist %s (%s)", name, phone)
	}

	return nil
}

func seedClients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d clients", count)

	for i := 0; i < count; i++ {
		if _, err := pool.Exec(ctx, `
			INSERT INTO users (id, phone, name, role)
			VALUES ($1, $2, $3, 'client')
			ON CONFLICT (phone) DO NOTHING
		`, uuid.New(), gofakeit.Numerify("9745#######"), gofakeit.Name()); err != nil {
			return err
		}
	}

	return nil
}
