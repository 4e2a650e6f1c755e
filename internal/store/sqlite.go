package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/bugsage/internal/models"
	"github.com/joescharf/bugsage/internal/search"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// querier is the subset of *sql.DB and *sql.Tx the queries below need.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single connection
	// serializes all access, so every InTx call runs in isolation from
	// concurrent requests.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	return ulid.Make().String()
}

// nullString maps "" to SQL NULL for optional references.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func notFound(kind, key string) error {
	return fmt.Errorf("%s not found: %s: %w", kind, key, ErrNotFound)
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InTx runs fn inside a transaction. The transaction holds the store's only
// connection, so fn must use tx for all database access.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&sqliteTx{q: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// sqliteTx implements Tx on top of a *sql.Tx.
type sqliteTx struct {
	q querier
}

func (t *sqliteTx) GetBug(ctx context.Context, id string) (*models.Bug, error) {
	return getBug(ctx, t.q, id)
}

func (t *sqliteTx) CreateBug(ctx context.Context, bug *models.Bug) error {
	return createBug(ctx, t.q, bug)
}

func (t *sqliteTx) UpdateBug(ctx context.Context, id string, patch BugPatch, updatedAt time.Time) error {
	return updateBug(ctx, t.q, id, patch, updatedAt)
}

func (t *sqliteTx) AppendHistory(ctx context.Context, entry *models.HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = newULID()
	}
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO bug_history (id, bug_id, changed_by, field, old_value, new_value, changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.BugID, entry.ChangedBy, entry.Field, entry.OldValue, entry.NewValue, entry.ChangedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (t *sqliteTx) LastHistoryAt(ctx context.Context, bugID string) (time.Time, error) {
	var at time.Time
	err := t.q.QueryRowContext(ctx,
		"SELECT changed_at FROM bug_history WHERE bug_id = ? ORDER BY seq DESC LIMIT 1", bugID,
	).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("last history: %w", err)
	}
	return at, nil
}

func (t *sqliteTx) CreateComment(ctx context.Context, c *models.Comment) error {
	if c.ID == "" {
		c.ID = newULID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := t.q.ExecContext(ctx,
		"INSERT INTO comments (id, bug_id, user_id, text, created_at) VALUES (?, ?, ?, ?, ?)",
		c.ID, c.BugID, c.AuthorID, c.Text, c.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create comment: %w", err)
	}
	return nil
}

func (t *sqliteTx) UserExists(ctx context.Context, id string) (bool, error) {
	return exists(ctx, t.q, "SELECT COUNT(*) FROM users WHERE id = ?", id)
}

func (t *sqliteTx) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := t.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func (t *sqliteTx) CreateUser(ctx context.Context, u *models.User) error {
	return createUser(ctx, t.q, u)
}

func (t *sqliteTx) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return getUserByEmail(ctx, t.q, email)
}

func (t *sqliteTx) ProjectExists(ctx context.Context, id string) (bool, error) {
	return exists(ctx, t.q, "SELECT COUNT(*) FROM projects WHERE id = ?", id)
}

func exists(ctx context.Context, q querier, query, id string) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, query, id).Scan(&n); err != nil {
		return false, fmt.Errorf("check exists: %w", err)
	}
	return n > 0, nil
}

// --- Users ---

func (s *SQLiteStore) CreateUser(ctx context.Context, u *models.User) error {
	return createUser(ctx, s.db, u)
}

func createUser(ctx context.Context, q querier, u *models.User) error {
	if u.ID == "" {
		u.ID = newULID()
	}
	u.CreatedAt = time.Now().UTC()

	_, err := q.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password_hash, role, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, u.PasswordHash, string(u.Role), u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

const userColumns = `id, name, email, password_hash, role, created_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	u := &models.User{}
	var role string
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	return u, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return getUserByEmail(ctx, s.db, email)
}

func getUserByEmail(ctx context.Context, q querier, email string) (*models.User, error) {
	u, err := scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("user", email)
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// --- Sessions ---

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *models.Session) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		sess.Token, sess.UserID, sess.CreatedAt.UTC(), sess.ExpiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, token string) (*models.Session, error) {
	sess := &models.Session{}
	err := s.db.QueryRowContext(ctx,
		`SELECT token, user_id, created_at, expires_at FROM sessions WHERE token = ?`, token,
	).Scan(&sess.Token, &sess.UserID, &sess.CreatedAt, &sess.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session not found: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE token = ?", token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at < ?", now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}

// --- Projects ---

func (s *SQLiteStore) CreateProject(ctx context.Context, p *models.Project) error {
	if p.ID == "" {
		p.ID = newULID()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, description, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

const projectSelect = `SELECT p.id, p.name, p.description, p.created_at, p.updated_at, COUNT(b.id)
	FROM projects p LEFT JOIN bugs b ON b.project_id = p.id`

func scanProject(row interface{ Scan(...any) error }) (*models.Project, error) {
	p := &models.Project{}
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt, &p.BugCount); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	p, err := scanProject(s.db.QueryRowContext(ctx, projectSelect+` WHERE p.id = ? GROUP BY p.id`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("project", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) GetProjectByName(ctx context.Context, name string) (*models.Project, error) {
	p, err := scanProject(s.db.QueryRowContext(ctx, projectSelect+` WHERE p.name = ? GROUP BY p.id ORDER BY p.created_at LIMIT 1`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("project", name)
	}
	if err != nil {
		return nil, fmt.Errorf("get project by name: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context) ([]*models.Project, error) {
	rows, err := s.db.QueryContext(ctx, projectSelect+` GROUP BY p.id ORDER BY p.name`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var projects []*models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *SQLiteStore) UpdateProject(ctx context.Context, p *models.Project) error {
	p.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE projects SET name=?, description=?, updated_at=? WHERE id=?`,
		p.Name, p.Description, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return notFound("project", p.ID)
	}
	return nil
}

func (s *SQLiteStore) DeleteProject(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return notFound("project", id)
	}
	return nil
}

// --- Bugs ---

const bugColumns = `b.id, COALESCE(b.project_id, ''), b.title, b.description, b.priority, b.status,
	b.reporter_id, COALESCE(b.assignee_id, ''), b.created_at, b.updated_at,
	COALESCE(p.name, ''), COALESCE(r.name, ''), COALESCE(a.name, '')`

const bugJoins = `LEFT JOIN projects p ON p.id = b.project_id
	LEFT JOIN users r ON r.id = b.reporter_id
	LEFT JOIN users a ON a.id = b.assignee_id`

func scanBug(row interface{ Scan(...any) error }) (*models.Bug, error) {
	b := &models.Bug{}
	var priority, status string
	if err := row.Scan(&b.ID, &b.ProjectID, &b.Title, &b.Description, &priority, &status,
		&b.ReporterID, &b.AssigneeID, &b.CreatedAt, &b.UpdatedAt,
		&b.ProjectName, &b.ReporterName, &b.AssigneeName); err != nil {
		return nil, err
	}
	b.Priority = models.BugPriority(priority)
	b.Status = models.BugStatus(status)
	return b, nil
}

func getBug(ctx context.Context, q querier, id string) (*models.Bug, error) {
	b, err := scanBug(q.QueryRowContext(ctx, `SELECT `+bugColumns+` FROM bugs b `+bugJoins+` WHERE b.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("bug", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get bug: %w", err)
	}
	return b, nil
}

func createBug(ctx context.Context, q querier, bug *models.Bug) error {
	if bug.ID == "" {
		bug.ID = newULID()
	}
	if bug.CreatedAt.IsZero() {
		bug.CreatedAt = time.Now().UTC()
	}
	if bug.UpdatedAt.IsZero() {
		bug.UpdatedAt = bug.CreatedAt
	}

	_, err := q.ExecContext(ctx,
		`INSERT INTO bugs (id, project_id, title, description, priority, status, reporter_id, assignee_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bug.ID, nullString(bug.ProjectID), bug.Title, bug.Description,
		string(bug.Priority), string(bug.Status), bug.ReporterID, nullString(bug.AssigneeID),
		bug.CreatedAt.UTC(), bug.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create bug: %w", err)
	}
	return nil
}

func updateBug(ctx context.Context, q querier, id string, patch BugPatch, updatedAt time.Time) error {
	if patch.Empty() {
		return nil
	}

	var sets []string
	var args []any
	if patch.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *patch.Title)
	}
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *patch.Description)
	}
	if patch.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, string(*patch.Priority))
	}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.AssigneeID != nil {
		sets = append(sets, "assignee_id = ?")
		args = append(args, nullString(*patch.AssigneeID))
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, updatedAt.UTC(), id)

	result, err := q.ExecContext(ctx, "UPDATE bugs SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update bug: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return notFound("bug", id)
	}
	return nil
}

func (s *SQLiteStore) GetBug(ctx context.Context, id string) (*models.Bug, error) {
	return getBug(ctx, s.db, id)
}

// bugWhere builds the WHERE clause shared by ListBugs and CountBugs.
func bugWhere(filter BugListFilter) (string, []any) {
	var conditions []string
	var args []any

	if filter.ProjectID != "" {
		conditions = append(conditions, "b.project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "b.status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Priority != "" {
		conditions = append(conditions, "b.priority = ?")
		args = append(args, string(filter.Priority))
	}
	if filter.AssigneeID != "" {
		conditions = append(conditions, "b.assignee_id = ?")
		args = append(args, filter.AssigneeID)
	}
	if filter.ReporterID != "" {
		conditions = append(conditions, "b.reporter_id = ?")
		args = append(args, filter.ReporterID)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func (s *SQLiteStore) ListBugs(ctx context.Context, filter BugListFilter) ([]*models.Bug, error) {
	where, args := bugWhere(filter)
	query := `SELECT ` + bugColumns + ` FROM bugs b ` + bugJoins + where + ` ORDER BY b.created_at DESC, b.id DESC`
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bugs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var bugs []*models.Bug
	for rows.Next() {
		b, err := scanBug(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bug: %w", err)
		}
		bugs = append(bugs, b)
	}
	return bugs, rows.Err()
}

func (s *SQLiteStore) CountBugs(ctx context.Context, filter BugListFilter) (int, error) {
	where, args := bugWhere(filter)
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM bugs b"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count bugs: %w", err)
	}
	return n, nil
}

// SearchBugs ranks bugs by relevance to text. FTS5 narrows the candidates to
// bugs sharing at least one term; search.Relevance then scores each
// candidate's title and description. Hits are ordered by descending relevance.
func (s *SQLiteStore) SearchBugs(ctx context.Context, text string, limit int) ([]models.SearchHit, error) {
	match := search.MatchQuery(text)
	if match == "" {
		return nil, nil
	}
	candidates := 50
	if limit*10 > candidates {
		candidates = limit * 10
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bugColumns+`
		FROM (SELECT bug_id, bm25(bugs_fts) AS score FROM bugs_fts WHERE bugs_fts MATCH ? ORDER BY score LIMIT ?) f
		JOIN bugs b ON b.id = f.bug_id `+bugJoins+`
		ORDER BY f.score`,
		match, candidates,
	)
	if err != nil {
		return nil, fmt.Errorf("search bugs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []models.SearchHit
	for rows.Next() {
		b, err := scanBug(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bug: %w", err)
		}
		relevance := search.Relevance(text, b.Title+" "+b.Description)
		if relevance <= 0 {
			continue
		}
		hits = append(hits, models.SearchHit{Bug: b, Relevance: relevance})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search bugs: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Relevance > hits[j].Relevance
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *SQLiteStore) DeleteBug(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM bugs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete bug: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return notFound("bug", id)
	}
	return nil
}

// --- Comments, attachments, history ---

func (s *SQLiteStore) ListComments(ctx context.Context, bugID string) ([]*models.Comment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.bug_id, c.user_id, COALESCE(u.name, ''), c.text, c.created_at
		FROM comments c LEFT JOIN users u ON u.id = c.user_id
		WHERE c.bug_id = ? ORDER BY c.created_at ASC, c.rowid ASC`, bugID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var comments []*models.Comment
	for rows.Next() {
		c := &models.Comment{}
		if err := rows.Scan(&c.ID, &c.BugID, &c.AuthorID, &c.AuthorName, &c.Text, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func (s *SQLiteStore) CreateAttachment(ctx context.Context, a *models.Attachment) error {
	if a.ID == "" {
		a.ID = newULID()
	}
	a.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attachments (id, bug_id, file_path, file_name, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.BugID, a.FilePath, a.FileName, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create attachment: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListAttachments(ctx context.Context, bugID string) ([]*models.Attachment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, bug_id, file_path, file_name, created_at FROM attachments
		WHERE bug_id = ? ORDER BY created_at ASC, rowid ASC`, bugID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var attachments []*models.Attachment
	for rows.Next() {
		a := &models.Attachment{}
		if err := rows.Scan(&a.ID, &a.BugID, &a.FilePath, &a.FileName, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		attachments = append(attachments, a)
	}
	return attachments, rows.Err()
}

// ListHistory returns a bug's audit entries in append order.
func (s *SQLiteStore) ListHistory(ctx context.Context, bugID string) ([]*models.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT h.id, h.bug_id, h.changed_by, COALESCE(u.name, ''), h.field, h.old_value, h.new_value, h.changed_at
		FROM bug_history h LEFT JOIN users u ON u.id = h.changed_by
		WHERE h.bug_id = ? ORDER BY h.seq ASC`, bugID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*models.HistoryEntry
	for rows.Next() {
		e := &models.HistoryEntry{}
		if err := rows.Scan(&e.ID, &e.BugID, &e.ChangedBy, &e.ChangedByName, &e.Field, &e.OldValue, &e.NewValue, &e.ChangedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
