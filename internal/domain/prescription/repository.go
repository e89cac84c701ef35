package prescription

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/medikeep/go-adherence/internal/domain/timeslot"
	"github.com/medikeep/go-adherence/internal/infrastructure/postgres"
	"github.com/medikeep/go-adherence/internal/infrastructure/redpanda"
)

// Store is the read surface other components need from the prescription
// repository. The scheduler and alert handler only read.
type Store interface {
	Get(ctx context.Context, id int64) (*Prescription, error)
	List(ctx context.Context) ([]*Prescription, error)
}

// Repository persists prescriptions and drugs in PostgreSQL. Every mutation
// appends a change event to the outbox in the same transaction, which is how
// the reminder dispatcher learns it must re-derive alert registrations.
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRepository creates a repository.
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, logger: logger}
}

// Create inserts a prescription and its drugs.
func (r *Repository) Create(ctx context.Context, p *Prescription) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, err)
	}
	for _, d := range p.Drugs {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalid, err)
		}
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO prescriptions (start_date, diagnosis, hospital, department, pharmacy)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err = tx.QueryRow(ctx, query,
		DateOnly(p.StartDate), p.Diagnosis, p.Hospital, p.Department, p.Pharmacy,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert prescription: %w", err)
	}

	for _, d := range p.Drugs {
		d.PrescriptionID = p.ID
		if err := insertDrug(ctx, tx, d); err != nil {
			return err
		}
	}

	if err := writeChange(ctx, tx, NewChangeEvent(ChangeCreated, p.ID, p.StartDate)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	r.logger.Info("prescription created",
		zap.Int64("prescription_id", p.ID),
		zap.Int("drugs", len(p.Drugs)))
	return nil
}

// Update rewrites the prescription header fields.
func (r *Repository) Update(ctx context.Context, p *Prescription) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE prescriptions
		SET start_date = $1, diagnosis = $2, hospital = $3, department = $4, pharmacy = $5
		WHERE id = $6
	`
	tag, err := tx.Exec(ctx, query,
		DateOnly(p.StartDate), p.Diagnosis, p.Hospital, p.Department, p.Pharmacy, p.ID)
	if err != nil {
		return fmt.Errorf("update prescription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if err := writeChange(ctx, tx, NewChangeEvent(ChangeUpdated, p.ID, p.StartDate)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Delete removes a prescription. Drugs and their completion records go with
// it through the cascade constraints.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, "DELETE FROM prescriptions WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete prescription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if err := writeChange(ctx, tx, NewChangeEvent(ChangeDeleted, id, time.Time{})); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	r.logger.Info("prescription deleted", zap.Int64("prescription_id", id))
	return nil
}

// Get loads one prescription with its drugs.
func (r *Repository) Get(ctx context.Context, id int64) (*Prescription, error) {
	query := `
		SELECT id, start_date, diagnosis, hospital, department, pharmacy, created_at
		FROM prescriptions
		WHERE id = $1
	`

	p := &Prescription{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.StartDate, &p.Diagnosis, &p.Hospital, &p.Department, &p.Pharmacy, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query prescription: %w", err)
	}

	drugs, err := r.drugsFor(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Drugs = drugs
	return p, nil
}

// List loads every prescription with drugs, ordered by start date descending.
func (r *Repository) List(ctx context.Context) ([]*Prescription, error) {
	query := `
		SELECT id, start_date, diagnosis, hospital, department, pharmacy, created_at
		FROM prescriptions
		ORDER BY start_date DESC, id DESC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query prescriptions: %w", err)
	}
	defer rows.Close()

	var out []*Prescription
	byID := make(map[int64]*Prescription)
	for rows.Next() {
		p := &Prescription{}
		err := rows.Scan(&p.ID, &p.StartDate, &p.Diagnosis, &p.Hospital, &p.Department, &p.Pharmacy, &p.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan prescription: %w", err)
		}
		out = append(out, p)
		byID[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	drugRows, err := r.pool.Query(ctx, `
		SELECT id, prescription_id, name, dosage, frequency, total_days, timing, memo, time_slots
		FROM drugs
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query drugs: %w", err)
	}
	defer drugRows.Close()

	for drugRows.Next() {
		d, err := scanDrug(drugRows)
		if err != nil {
			return nil, err
		}
		if p, ok := byID[d.PrescriptionID]; ok {
			p.Drugs = append(p.Drugs, d)
		}
	}
	return out, drugRows.Err()
}

// AddDrug attaches a drug to an existing prescription.
func (r *Repository) AddDrug(ctx context.Context, d *Drug) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertDrug(ctx, tx, d); err != nil {
		return err
	}

	start, err := startDateOf(ctx, tx, d.PrescriptionID)
	if err != nil {
		return err
	}
	ev := NewChangeEvent(ChangeDrugAdded, d.PrescriptionID, start).WithDrug(d.ID)
	if err := writeChange(ctx, tx, ev); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// UpdateDrug rewrites a drug's fields.
func (r *Repository) UpdateDrug(ctx context.Context, d *Drug) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE drugs
		SET name = $1, dosage = $2, frequency = $3, total_days = $4, timing = $5, memo = $6, time_slots = $7
		WHERE id = $8 AND prescription_id = $9
	`
	tag, err := tx.Exec(ctx, query,
		d.Name, d.Dosage, d.Frequency, d.TotalDays, d.Timing, d.Memo,
		timeslot.FormatList(d.TimeSlots), d.ID, d.PrescriptionID)
	if err != nil {
		return fmt.Errorf("update drug: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	start, err := startDateOf(ctx, tx, d.PrescriptionID)
	if err != nil {
		return err
	}
	ev := NewChangeEvent(ChangeDrugUpdated, d.PrescriptionID, start).WithDrug(d.ID)
	if err := writeChange(ctx, tx, ev); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// DeleteDrug removes a drug; its completion records cascade away.
func (r *Repository) DeleteDrug(ctx context.Context, prescriptionID, drugID int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, "DELETE FROM drugs WHERE id = $1 AND prescription_id = $2", drugID, prescriptionID)
	if err != nil {
		return fmt.Errorf("delete drug: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	start, err := startDateOf(ctx, tx, prescriptionID)
	if err != nil {
		return err
	}
	ev := NewChangeEvent(ChangeDrugRemoved, prescriptionID, start).WithDrug(drugID)
	if err := writeChange(ctx, tx, ev); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *Repository) drugsFor(ctx context.Context, prescriptionID int64) ([]*Drug, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, prescription_id, name, dosage, frequency, total_days, timing, memo, time_slots
		FROM drugs
		WHERE prescription_id = $1
		ORDER BY id ASC
	`, prescriptionID)
	if err != nil {
		return nil, fmt.Errorf("query drugs: %w", err)
	}
	defer rows.Close()

	var drugs []*Drug
	for rows.Next() {
		d, err := scanDrug(rows)
		if err != nil {
			return nil, err
		}
		drugs = append(drugs, d)
	}
	return drugs, rows.Err()
}

func insertDrug(ctx context.Context, tx pgx.Tx, d *Drug) error {
	query := `
		INSERT INTO drugs (prescription_id, name, dosage, frequency, total_days, timing, memo, time_slots)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err := tx.QueryRow(ctx, query,
		d.PrescriptionID, d.Name, d.Dosage, d.Frequency, d.TotalDays,
		d.Timing, d.Memo, timeslot.FormatList(d.TimeSlots),
	).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("insert drug: %w", err)
	}
	return nil
}

func scanDrug(rows pgx.Rows) (*Drug, error) {
	d := &Drug{}
	var stored string
	err := rows.Scan(&d.ID, &d.PrescriptionID, &d.Name, &d.Dosage, &d.Frequency,
		&d.TotalDays, &d.Timing, &d.Memo, &stored)
	if err != nil {
		return nil, fmt.Errorf("scan drug: %w", err)
	}
	d.TimeSlots = timeslot.ParseList(stored)
	return d, nil
}

func startDateOf(ctx context.Context, tx pgx.Tx, prescriptionID int64) (time.Time, error) {
	var start time.Time
	err := tx.QueryRow(ctx, "SELECT start_date FROM prescriptions WHERE id = $1", prescriptionID).Scan(&start)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, fmt.Errorf("query start date: %w", err)
	}
	return start, nil
}

func writeChange(ctx context.Context, tx pgx.Tx, ev *ChangeEvent) error {
	payload, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}

	entry := &postgres.OutboxEntry{
		AggregateID:   strconv.FormatInt(ev.PrescriptionID, 10),
		AggregateType: "Prescription",
		EventType:     string(ev.Change),
		Payload:       payload,
		Topic:         redpanda.TopicPrescriptionChanged,
		Key:           strconv.FormatInt(ev.PrescriptionID, 10),
	}
	return postgres.WriteEntry(ctx, tx, entry)
}
