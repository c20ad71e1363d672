package speciesref

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver
)

// Translation is one (scientific_name, language_code) -> common_name row.
type Translation struct {
	ScientificName string
	LanguageCode   string
	CommonName     string
}

// BuildDatabase creates (or replaces) a reference database file from a set
// of species and translations, tuning pragmas for a fast bulk load the way
// original_source's ioc_database_service does (journal_mode/synchronous off
// during the load, restored to sane defaults isn't necessary since this is
// a build-time, single-writer, then read-only-forever file).
func BuildDatabase(path string, species []Species, translations []Translation) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating reference db directory: %w", err)
	}
	_ = os.Remove(path)

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("opening reference db: %w", err)
	}
	defer db.Close()

	for _, pragma := range []string{"PRAGMA journal_mode=OFF", "PRAGMA synchronous=OFF", "PRAGMA temp_store=MEMORY"} {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("setting %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(`
		CREATE TABLE species (
			scientific_name TEXT PRIMARY KEY,
			english_name    TEXT NOT NULL,
			"order"         TEXT,
			family          TEXT,
			genus           TEXT,
			species_epithet TEXT,
			authority       TEXT
		)`); err != nil {
		return fmt.Errorf("creating species table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE species_translations (
			scientific_name TEXT NOT NULL,
			language_code   TEXT NOT NULL,
			common_name     TEXT NOT NULL,
			PRIMARY KEY (scientific_name, language_code)
		)`); err != nil {
		return fmt.Errorf("creating species_translations table: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning bulk load transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	speciesStmt, err := tx.Prepare(`INSERT INTO species
		(scientific_name, english_name, "order", family, genus, species_epithet, authority)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing species insert: %w", err)
	}
	defer speciesStmt.Close()

	for _, sp := range species {
		if _, err := speciesStmt.Exec(sp.ScientificName, sp.EnglishName, sp.Order, sp.Family, sp.Genus, sp.Epithet, sp.Authority); err != nil {
			return fmt.Errorf("inserting species %s: %w", sp.ScientificName, err)
		}
	}

	translationStmt, err := tx.Prepare(`INSERT INTO species_translations
		(scientific_name, language_code, common_name) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing translation insert: %w", err)
	}
	defer translationStmt.Close()

	for _, t := range translations {
		if _, err := translationStmt.Exec(t.ScientificName, t.LanguageCode, t.CommonName); err != nil {
			return fmt.Errorf("inserting translation %s/%s: %w", t.ScientificName, t.LanguageCode, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing bulk load: %w", err)
	}
	return nil
}
