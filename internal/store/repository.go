package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/semmidev/bastion/internal/domain"
)

// Repository owns all durable records: targets, schedule jobs, backup
// history and the opaque app-config collaborator. Every mutation is a
// single atomic statement scoped to one record; callers never mutate
// rows around it.
type Repository struct {
	db     *sql.DB
	keeper *Keeper
	pub    domain.Publisher
	now    func() time.Time
}

func NewRepository(db *sql.DB, keeper *Keeper) *Repository {
	return &Repository{
		db:     db,
		keeper: keeper,
		now:    time.Now,
	}
}

// SetPublisher registers the observer notified on state transitions.
func (r *Repository) SetPublisher(p domain.Publisher) {
	r.pub = p
}

func (r *Repository) publish(e domain.Event) {
	if r.pub != nil {
		e.At = r.now()
		r.pub.Publish(e)
	}
}

// CreateTarget validates and persists a new target. The plaintext
// password is sealed before it is written anywhere.
func (r *Repository) CreateTarget(t *domain.Target, password string) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if password == "" {
		return domain.Invalid("target.password", "required")
	}

	sealed, err := r.keeper.Seal(password)
	if err != nil {
		return fmt.Errorf("seal credential: %w", err)
	}

	dbs, err := json.Marshal(t.Databases)
	if err != nil {
		return fmt.Errorf("marshal databases: %w", err)
	}

	now := r.now()
	t.CreatedAt = now
	t.UpdatedAt = now
	t.CredentialRef = sealed

	res, err := r.db.Exec(`
		INSERT INTO targets (name, host, port, user, password_enc, comment,
		                     retention_days, compress, database_mode, databases,
		                     created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Name, t.Host, t.Port, t.User, sealed, t.Comment,
		t.RetentionDays, t.Compress, string(t.DatabaseMode), string(dbs),
		t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create target: %w", err)
	}

	t.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	return nil
}

func (r *Repository) GetTarget(id int64) (*domain.Target, error) {
	row := r.db.QueryRow(`
		SELECT id, name, host, port, user, password_enc, comment,
		       retention_days, compress, database_mode, databases,
		       created_at, updated_at
		FROM targets WHERE id = ?`, id)
	return scanTarget(row)
}

func (r *Repository) ListTargets() ([]*domain.Target, error) {
	rows, err := r.db.Query(`
		SELECT id, name, host, port, user, password_enc, comment,
		       retention_days, compress, database_mode, databases,
		       created_at, updated_at
		FROM targets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query targets: %w", err)
	}
	defer rows.Close()

	var targets []*domain.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// UpdateTarget persists changes to a target. An empty password keeps
// the stored credential.
func (r *Repository) UpdateTarget(t *domain.Target, password string) error {
	if err := t.Validate(); err != nil {
		return err
	}

	current, err := r.GetTarget(t.ID)
	if err != nil {
		return err
	}

	sealed := current.CredentialRef
	if password != "" {
		if sealed, err = r.keeper.Seal(password); err != nil {
			return fmt.Errorf("seal credential: %w", err)
		}
	}

	dbs, err := json.Marshal(t.Databases)
	if err != nil {
		return fmt.Errorf("marshal databases: %w", err)
	}

	t.UpdatedAt = r.now()
	t.CredentialRef = sealed

	_, err = r.db.Exec(`
		UPDATE targets SET name = ?, host = ?, port = ?, user = ?, password_enc = ?,
		                   comment = ?, retention_days = ?, compress = ?,
		                   database_mode = ?, databases = ?, updated_at = ?
		WHERE id = ?`,
		t.Name, t.Host, t.Port, t.User, sealed, t.Comment,
		t.RetentionDays, t.Compress, string(t.DatabaseMode), string(dbs),
		t.UpdatedAt, t.ID)
	if err != nil {
		return fmt.Errorf("update target: %w", err)
	}
	return nil
}

// DeleteTarget removes a target and its backup history. Deletion is
// rejected with ErrTargetInUse while schedule jobs still reference the
// target; dependent jobs must be deleted first.
func (r *Repository) DeleteTarget(id int64) error {
	var jobs int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM jobs WHERE target_id = ?`, id).Scan(&jobs); err != nil {
		return fmt.Errorf("count dependent jobs: %w", err)
	}
	if jobs > 0 {
		return fmt.Errorf("%d job(s) reference target %d: %w", jobs, id, domain.ErrTargetInUse)
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM backups WHERE target_id = ?`, id); err != nil {
		return fmt.Errorf("delete target backups: %w", err)
	}
	res, err := tx.Exec(`DELETE FROM targets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete target: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrTargetNotFound
	}
	return tx.Commit()
}

// TargetCredential resolves the plaintext password for executors.
// Nothing else should call this.
func (r *Repository) TargetCredential(id int64) (string, error) {
	t, err := r.GetTarget(id)
	if err != nil {
		return "", err
	}
	return r.keeper.Open(t.CredentialRef)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTarget(row scanner) (*domain.Target, error) {
	t := &domain.Target{}
	var mode, dbs string
	err := row.Scan(&t.ID, &t.Name, &t.Host, &t.Port, &t.User, &t.CredentialRef,
		&t.Comment, &t.RetentionDays, &t.Compress, &mode, &dbs,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTargetNotFound
		}
		return nil, fmt.Errorf("scan target: %w", err)
	}
	t.DatabaseMode = domain.DatabaseMode(mode)
	if err := json.Unmarshal([]byte(dbs), &t.Databases); err != nil {
		return nil, fmt.Errorf("parse databases: %w", err)
	}
	return t, nil
}
