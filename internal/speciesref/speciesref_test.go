package speciesref

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func buildTestRef(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reference.db")
	require.NoError(t, BuildDatabase(path,
		[]Species{{
			ScientificName: "Turdus migratorius",
			EnglishName:    "American Robin",
			Order:          "Passeriformes",
			Family:         "Turdidae",
			Genus:          "Turdus",
			Epithet:        "migratorius",
			Authority:      "Linnaeus, 1766",
		}},
		[]Translation{{ScientificName: "Turdus migratorius", LanguageCode: "es", CommonName: "Petirrojo Americano"}},
	))
	return path
}

func TestAttachLookupAndTranslate(t *testing.T) {
	refPath := buildTestRef(t)
	mainPath := filepath.Join(t.TempDir(), "main.db")

	db, err := sql.Open("sqlite3", mainPath)
	require.NoError(t, err)
	defer db.Close()

	ref := New(refPath)
	ctx := context.Background()

	err = ref.Attach(ctx, db, func(conn *sql.Conn) error {
		sp, err := ref.Lookup(ctx, conn, "Turdus migratorius")
		require.NoError(t, err)
		require.Equal(t, "American Robin", sp.EnglishName)
		require.Equal(t, "Turdidae", sp.Family)

		translated, err := ref.Translate(ctx, conn, "Turdus migratorius", "es")
		require.NoError(t, err)
		require.Equal(t, "Petirrojo Americano", translated)

		missing, err := ref.Translate(ctx, conn, "Turdus migratorius", "de")
		require.NoError(t, err)
		require.Empty(t, missing)

		return nil
	})
	require.NoError(t, err)
}

func TestFamilySummary(t *testing.T) {
	refPath := buildTestRef(t)
	mainPath := filepath.Join(t.TempDir(), "main.db")

	db, err := sql.Open("sqlite3", mainPath)
	require.NoError(t, err)
	defer db.Close()

	ref := New(refPath)
	ctx := context.Background()

	err = ref.Attach(ctx, db, func(conn *sql.Conn) error {
		summary, err := ref.FamilySummary(ctx, conn, []string{"Turdus migratorius"})
		require.NoError(t, err)
		require.Equal(t, 1, summary["Turdidae"])
		return nil
	})
	require.NoError(t, err)
}
