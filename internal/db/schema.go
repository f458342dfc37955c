package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schemaStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS btree_gist`,
	`CREATE TABLE IF NOT EXISTS patients (
		id          uuid PRIMARY KEY,
		name        text NOT NULL,
		email       text,
		created_at  timestamptz NOT NULL DEFAULT now(),
		updated_at  timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS doctors (
		id          uuid PRIMARY KEY,
		name        text NOT NULL,
		specialty   text,
		about       text,
		available   boolean NOT NULL DEFAULT true,
		fee         numeric(10,2) NOT NULL DEFAULT 0,
		created_at  timestamptz NOT NULL DEFAULT now(),
		updated_at  timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS appointments (
		id                 uuid PRIMARY KEY,
		patient_id         uuid NOT NULL REFERENCES patients(id),
		doctor_id          uuid NOT NULL REFERENCES doctors(id),
		start_time         timestamptz NOT NULL,
		end_time           timestamptz NOT NULL,
		status             text NOT NULL,
		notes              text,
		patient_name       text NOT NULL DEFAULT '',
		doctor_name        text NOT NULL DEFAULT '',
		doctor_specialty   text NOT NULL DEFAULT '',
		amount_due         numeric(10,2) NOT NULL DEFAULT 0,
		payment_confirmed  boolean NOT NULL DEFAULT false,
		acknowledged_at    timestamptz,
		created_at         timestamptz NOT NULL DEFAULT now(),
		updated_at         timestamptz NOT NULL DEFAULT now(),
		CHECK (start_time < end_time)
	)`,
	// Half-open ranges: touching endpoints do not collide. The constraint is
	// the cross-process backstop for the conditional-insert reserve path.
	`DO $$ BEGIN
		ALTER TABLE appointments ADD CONSTRAINT appointments_no_overlap
			EXCLUDE USING gist (
				doctor_id WITH =,
				tstzrange(start_time, end_time, '[)') WITH &&
			) WHERE (status = 'scheduled');
	EXCEPTION WHEN duplicate_object THEN NULL;
	END $$`,
	`CREATE INDEX IF NOT EXISTS idx_appointments_doctor_sched
		ON appointments (doctor_id, start_time)
		WHERE status = 'scheduled'`,
	`CREATE INDEX IF NOT EXISTS idx_appointments_patient
		ON appointments (patient_id, start_time)`,
	`CREATE TABLE IF NOT EXISTS event_logs (
		id              bigserial PRIMARY KEY,
		event_type      text NOT NULL,
		appointment_id  uuid,
		payload         jsonb,
		created_at      timestamptz NOT NULL DEFAULT now()
	)`,
}

// EnsureSchema creates the tables the service needs if they do not exist.
// Intended for the seed command and local development, not as a migration
// framework.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
