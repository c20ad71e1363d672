// Package speciesref provides read-only access to an IOC World Bird Names
// style reference database: scientific_name -> english_name, taxonomic
// rank, and a per-language translation table. It is a separate sqlite file
// from the main detections database and is attached read-only per analytics
// session via SQLite's ATTACH DATABASE, exactly as spec.md §9's
// "reference-database attach at query time" prescribes.
package speciesref

import (
	"context"
	"database/sql"
	"fmt"
)

// Species is one reference row: the taxonomy and canonical English name
// BirdNET's raw model labels are translated against.
type Species struct {
	ScientificName string
	EnglishName    string
	Order          string
	Family         string
	Genus          string
	Epithet        string
	Authority      string
}

// Reference points at the on-disk reference database file. It holds no
// open connection of its own; every lookup attaches the file to a caller-
// supplied connection for the duration of one query set.
type Reference struct {
	path string
}

// New returns a Reference bound to the sqlite file at path. The file is
// opened lazily, once attached, by the SQLite driver itself.
func New(path string) *Reference {
	return &Reference{path: path}
}

const attachedSchema = "speciesref"

// Attach grabs a dedicated connection from db's pool, ATTACHes the
// reference database to it under the schema name "speciesref", and calls
// fn with that connection. The attachment is torn down (and the connection
// released back to the pool) when fn returns, so callers never leak a
// schema binding onto a connection the pool hands to unrelated queries.
func (r *Reference) Attach(ctx context.Context, db *sql.DB, fn func(conn *sql.Conn) error) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection for species reference attach: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, fmt.Sprintf("ATTACH DATABASE %q AS %s", r.path, attachedSchema)); err != nil {
		return fmt.Errorf("attaching species reference database %s: %w", r.path, err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), fmt.Sprintf("DETACH DATABASE %s", attachedSchema))
	}()

	return fn(conn)
}

// Lookup fetches the full reference row for a scientific name, on an
// already-attached connection (see Attach).
func (r *Reference) Lookup(ctx context.Context, conn *sql.Conn, scientificName string) (Species, error) {
	row := conn.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT scientific_name, english_name, "order", family, genus, species_epithet, authority
		   FROM %s.species WHERE scientific_name = ?`, attachedSchema), scientificName)

	var sp Species
	if err := row.Scan(&sp.ScientificName, &sp.EnglishName, &sp.Order, &sp.Family, &sp.Genus, &sp.Epithet, &sp.Authority); err != nil {
		return Species{}, fmt.Errorf("looking up species %s: %w", scientificName, err)
	}
	return sp, nil
}

// Translate returns the localized common name for scientificName in
// languageCode, or "" if no translation row exists (callers fall back to
// EnglishName from Lookup, matching original_source's get_ioc_common_name
// fallback chain).
func (r *Reference) Translate(ctx context.Context, conn *sql.Conn, scientificName, languageCode string) (string, error) {
	row := conn.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT common_name FROM %s.species_translations
		   WHERE scientific_name = ? AND language_code = ?`, attachedSchema), scientificName, languageCode)

	var name string
	if err := row.Scan(&name); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("looking up translation for %s/%s: %w", scientificName, languageCode, err)
	}
	return name, nil
}

// FamilySummary aggregates species counts per taxonomic family for a set of
// scientific names, joined against the attached reference database — used
// by the analytics layer's "species/family summaries" query.
func (r *Reference) FamilySummary(ctx context.Context, conn *sql.Conn, scientificNames []string) (map[string]int, error) {
	if len(scientificNames) == 0 {
		return map[string]int{}, nil
	}

	placeholders := make([]string, len(scientificNames))
	args := make([]any, len(scientificNames))
	for i, name := range scientificNames {
		placeholders[i] = "?"
		args[i] = name
	}
	query := fmt.Sprintf(
		`SELECT family, COUNT(*) FROM %s.species WHERE scientific_name IN (%s) GROUP BY family`,
		attachedSchema, joinPlaceholders(placeholders))

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("summarizing families: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var family string
		var count int
		if err := rows.Scan(&family, &count); err != nil {
			return nil, err
		}
		out[family] = count
	}
	return out, rows.Err()
}

func joinPlaceholders(ps []string) string {
	out := ps[0]
	for _, p := range ps[1:] {
		out += "," + p
	}
	return out
}
