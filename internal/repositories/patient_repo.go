package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/trialbridge/portal/internal/database"
	"github.com/trialbridge/portal/internal/models"
)

type PatientRepository struct{}

func NewPatientRepository() *PatientRepository {
	return &PatientRepository{}
}

func scanPatientRow(scanner rowScanner) (*models.Patient, error) {
	var patient models.Patient

	err := scanner.Scan(
		&patient.ID, &patient.SiteID, &patient.SubjectKey,
		&patient.MobileLinkingStatus, &patient.CreatedAt, &patient.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &patient, nil
}

func scanPatientRows(rows pgx.Rows) ([]*models.Patient, error) {
	defer rows.Close()

	patients := make([]*models.Patient, 0)

	for rows.Next() {
		patient, err := scanPatientRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan patient: %w", err)
		}
		patients = append(patients, patient)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return patients, nil
}

func (r *PatientRepository) GetByID(ctx context.Context, q database.Executor, id string) (*models.Patient, error) {
	query := `
		SELECT id, site_id, subject_key, mobile_linking_status, created_at, updated_at
		FROM patients WHERE id = $1
	`

	return scanPatientRow(q.QueryRow(ctx, query, id))
}

func (r *PatientRepository) ListBySite(ctx context.Context, q database.Executor, siteID string, limit, offset int) ([]*models.Patient, error) {
	query := `
		SELECT id, site_id, subject_key, mobile_linking_status, created_at, updated_at
		FROM patients WHERE site_id = $1
		ORDER BY subject_key LIMIT $2 OFFSET $3
	`

	rows, err := q.Query(ctx, query, siteID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query patients: %w", err)
	}

	return scanPatientRows(rows)
}

// UpdateLinkingStatus moves the patient between linking states with a
// compare-and-set on the current status. A zero rows-affected result
// means a concurrent writer won the transition.
func (r *PatientRepository) UpdateLinkingStatus(ctx context.Context, q database.Executor, patientID, fromStatus, toStatus string) error {
	query := `
		UPDATE patients
		SET mobile_linking_status = $3, updated_at = NOW()
		WHERE id = $1 AND mobile_linking_status = $2
	`

	tag, err := q.Exec(ctx, query, patientID, fromStatus, toStatus)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrStateConflict
	}

	return nil
}
